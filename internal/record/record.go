// Package record defines the typed records the sync engine moves between
// the local store and the remote document store.
//
// Four record kinds cross the sync boundary:
//   - Habit: the habit definition; remote is the long-term source of truth.
//   - CompletionRecord: materialized daily state, unique per
//     (userID, habitID, dateKey). This is the row the UI and streak logic read.
//   - ProgressEvent: the append-only outbox of user actions.
//   - DailyAward: the ledger entry that makes "all habits done today"
//     idempotent and auditable.
//
// XPState is snapshot-only: the engine reads and republishes it but never
// computes it independently.
package record

import (
	"fmt"
	"time"
)

// GuestUserID is the sentinel identity returned when no stable user exists.
// Every sync entry point treats it as "skip, not error".
const GuestUserID = "guest"

// Habit is a habit definition, unique per (UserID, HabitID).
//
// DaysOfWeek is a bitmask of scheduled weekdays (bit 0 = Sunday, matching
// time.Weekday). Zero means "scheduled every day". How richer schedules
// expand to dates is outside the engine; the mask exists only so award
// validation can ask "was this habit scheduled on that date".
type Habit struct {
	UserID       string
	HabitID      string
	Name         string
	Goal         int // daily target count; completion at Progress >= Goal
	DaysOfWeek   uint8
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncedAt time.Time
}

// ScheduledOn reports whether the habit is scheduled on the given date key.
// Malformed date keys report false.
func (h Habit) ScheduledOn(dateKey string) bool {
	if h.DaysOfWeek == 0 {
		return true
	}
	t, err := ParseDateKey(dateKey)
	if err != nil {
		return false
	}
	return h.DaysOfWeek&(1<<uint(t.Weekday())) != 0
}

// CompletionRecord is the materialized daily state for one habit on one day,
// unique per (UserID, HabitID, DateKey). Derived from the event log and kept
// consistent with the remote equivalent.
//
// Synced is a local control flag owned by the engine; it never crosses the
// wire.
type CompletionRecord struct {
	UserID      string
	HabitID     string
	DateKey     string
	IsCompleted bool
	Progress    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Synced      bool
}

// ProgressEvent is one entry in the local append-only outbox.
//
// OperationID is a client-generated idempotency token, globally unique per
// logical action. Created by the UI mutation path; the engine only flips
// Synced (never back) and never physically deletes an unsynced event.
type ProgressEvent struct {
	ID          string
	UserID      string
	HabitID     string
	DateKey     string
	OperationID string
	Kind        EventKind
	Amount      int
	CreatedAt   time.Time
	Synced      bool
	DeletedAt   *time.Time
}

// EventKind is the logical action a ProgressEvent records.
type EventKind string

const (
	EventIncrement EventKind = "increment"
	EventDecrement EventKind = "decrement"
	EventSet       EventKind = "set"
)

// DailyAward is the per-day XP grant ledger entry, unique per
// (UserID, DateKey).
type DailyAward struct {
	UserID             string
	DateKey            string
	XPGranted          int
	AllHabitsCompleted bool
	CreatedAt          time.Time
	Synced             bool
}

// XPState is the shared per-user XP snapshot held in a single remote
// document. The engine republishes it alongside award writes.
type XPState struct {
	TotalXP        int
	Level          int
	CurrentLevelXP int
	LastUpdated    time.Time
}

// Validate rejects events that cannot be keyed or routed.
func (e ProgressEvent) Validate() error {
	if e.OperationID == "" {
		return fmt.Errorf("progress event %s: empty operation id", e.ID)
	}
	if e.HabitID == "" {
		return fmt.Errorf("progress event %s: empty habit id", e.ID)
	}
	if err := ValidateDateKey(e.DateKey); err != nil {
		return fmt.Errorf("progress event %s: %w", e.ID, err)
	}
	return nil
}

// Validate rejects completions that cannot be keyed.
func (c CompletionRecord) Validate() error {
	if c.HabitID == "" {
		return fmt.Errorf("completion: empty habit id")
	}
	if err := ValidateDateKey(c.DateKey); err != nil {
		return fmt.Errorf("completion %s/%s: %w", c.HabitID, c.DateKey, err)
	}
	return nil
}

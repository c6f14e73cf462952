package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/habitsync/habitsync/internal/record"
)

// CurrentSchemaVersion is stamped into every document this writer produces.
// Decoders accept any version from 1 through current and reject the rest,
// so a malformed or future document is skipped instead of crashing a pull.
const CurrentSchemaVersion = 1

// Wire timestamps are Unix milliseconds UTC; zero means absent. Millisecond
// quantization on both sides is what makes merge-time equality comparisons
// well defined.

type habitDoc struct {
	SchemaVersion int    `json:"schemaVersion"`
	HabitID       string `json:"habitId"`
	Name          string `json:"name"`
	Goal          int    `json:"goal"`
	DaysOfWeek    int    `json:"daysOfWeek"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	UpdatedAt     int64  `json:"updatedAt,omitempty"`
}

type completionDoc struct {
	SchemaVersion int    `json:"schemaVersion"`
	ID            string `json:"id"` // comp_{habitId}_{dateKey}, carried verbatim for replay detection
	HabitID       string `json:"habitId"`
	DateKey       string `json:"dateKey"`
	IsCompleted   bool   `json:"isCompleted"`
	Progress      int    `json:"progress"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	UpdatedAt     int64  `json:"updatedAt,omitempty"`
}

type eventDoc struct {
	SchemaVersion int    `json:"schemaVersion"`
	OperationID   string `json:"operationId"`
	HabitID       string `json:"habitId"`
	DateKey       string `json:"dateKey"`
	Kind          string `json:"kind"`
	Amount        int    `json:"amount"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
}

type awardDoc struct {
	SchemaVersion      int    `json:"schemaVersion"`
	ID                 string `json:"id"` // userId#dateKey, carried verbatim
	UserID             string `json:"userId"`
	DateKey            string `json:"dateKey"`
	XPGranted          int    `json:"xpGranted"`
	AllHabitsCompleted bool   `json:"allHabitsCompleted"`
	CreatedAt          int64  `json:"createdAt,omitempty"`
}

type xpStateDoc struct {
	SchemaVersion  int   `json:"schemaVersion"`
	TotalXP        int   `json:"totalXP"`
	Level          int   `json:"level"`
	CurrentLevelXP int   `json:"currentLevelXP"`
	LastUpdated    int64 `json:"lastUpdated,omitempty"`
}

func wireMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func wireTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func checkVersion(v int, kind string) error {
	if v < 1 || v > CurrentSchemaVersion {
		return fmt.Errorf("%s document: unsupported schema version %d", kind, v)
	}
	return nil
}

// EncodeHabit encodes a habit definition for the wire.
func EncodeHabit(h record.Habit) (json.RawMessage, error) {
	return json.Marshal(habitDoc{
		SchemaVersion: CurrentSchemaVersion,
		HabitID:       h.HabitID,
		Name:          h.Name,
		Goal:          h.Goal,
		DaysOfWeek:    int(h.DaysOfWeek),
		CreatedAt:     wireMillis(h.CreatedAt),
		UpdatedAt:     wireMillis(h.UpdatedAt),
	})
}

// DecodeHabit decodes and validates a habit document. userID is the owner
// the document was fetched under; it is not on the wire.
func DecodeHabit(userID string, data json.RawMessage) (record.Habit, error) {
	var d habitDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return record.Habit{}, fmt.Errorf("habit document: %w", err)
	}
	if err := checkVersion(d.SchemaVersion, "habit"); err != nil {
		return record.Habit{}, err
	}
	if d.HabitID == "" {
		return record.Habit{}, fmt.Errorf("habit document: missing habitId")
	}
	return record.Habit{
		UserID:     userID,
		HabitID:    d.HabitID,
		Name:       d.Name,
		Goal:       d.Goal,
		DaysOfWeek: uint8(d.DaysOfWeek),
		CreatedAt:  wireTime(d.CreatedAt),
		UpdatedAt:  wireTime(d.UpdatedAt),
	}, nil
}

// EncodeCompletion encodes a completion with its deterministic id carried
// verbatim so any reader can detect replay without external state.
func EncodeCompletion(docID string, c record.CompletionRecord) (json.RawMessage, error) {
	return json.Marshal(completionDoc{
		SchemaVersion: CurrentSchemaVersion,
		ID:            docID,
		HabitID:       c.HabitID,
		DateKey:       c.DateKey,
		IsCompleted:   c.IsCompleted,
		Progress:      c.Progress,
		CreatedAt:     wireMillis(c.CreatedAt),
		UpdatedAt:     wireMillis(c.UpdatedAt),
	})
}

// DecodeCompletion decodes and validates a completion document.
func DecodeCompletion(userID string, data json.RawMessage) (record.CompletionRecord, error) {
	var d completionDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return record.CompletionRecord{}, fmt.Errorf("completion document: %w", err)
	}
	if err := checkVersion(d.SchemaVersion, "completion"); err != nil {
		return record.CompletionRecord{}, err
	}
	if d.HabitID == "" {
		return record.CompletionRecord{}, fmt.Errorf("completion document: missing habitId")
	}
	if err := record.ValidateDateKey(d.DateKey); err != nil {
		return record.CompletionRecord{}, fmt.Errorf("completion document: %w", err)
	}
	return record.CompletionRecord{
		UserID:      userID,
		HabitID:     d.HabitID,
		DateKey:     d.DateKey,
		IsCompleted: d.IsCompleted,
		Progress:    d.Progress,
		CreatedAt:   wireTime(d.CreatedAt),
		UpdatedAt:   wireTime(d.UpdatedAt),
	}, nil
}

// EncodeEvent encodes a progress event. The operation id rides in the
// payload as well as the path so replayed uploads are detectable on read.
func EncodeEvent(e record.ProgressEvent) (json.RawMessage, error) {
	return json.Marshal(eventDoc{
		SchemaVersion: CurrentSchemaVersion,
		OperationID:   e.OperationID,
		HabitID:       e.HabitID,
		DateKey:       e.DateKey,
		Kind:          string(e.Kind),
		Amount:        e.Amount,
		CreatedAt:     wireMillis(e.CreatedAt),
	})
}

// DecodeEvent decodes and validates an event document.
func DecodeEvent(userID string, data json.RawMessage) (record.ProgressEvent, error) {
	var d eventDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return record.ProgressEvent{}, fmt.Errorf("event document: %w", err)
	}
	if err := checkVersion(d.SchemaVersion, "event"); err != nil {
		return record.ProgressEvent{}, err
	}
	if d.OperationID == "" {
		return record.ProgressEvent{}, fmt.Errorf("event document: missing operationId")
	}
	if d.HabitID == "" {
		return record.ProgressEvent{}, fmt.Errorf("event document: missing habitId")
	}
	if err := record.ValidateDateKey(d.DateKey); err != nil {
		return record.ProgressEvent{}, fmt.Errorf("event document: %w", err)
	}
	return record.ProgressEvent{
		ID:          d.OperationID,
		UserID:      userID,
		HabitID:     d.HabitID,
		DateKey:     d.DateKey,
		OperationID: d.OperationID,
		Kind:        record.EventKind(d.Kind),
		Amount:      d.Amount,
		CreatedAt:   wireTime(d.CreatedAt),
	}, nil
}

// EncodeAward encodes a daily award with its deterministic id.
func EncodeAward(docID string, a record.DailyAward) (json.RawMessage, error) {
	return json.Marshal(awardDoc{
		SchemaVersion:      CurrentSchemaVersion,
		ID:                 docID,
		UserID:             a.UserID,
		DateKey:            a.DateKey,
		XPGranted:          a.XPGranted,
		AllHabitsCompleted: a.AllHabitsCompleted,
		CreatedAt:          wireMillis(a.CreatedAt),
	})
}

// DecodeAward decodes and validates an award document.
func DecodeAward(userID string, data json.RawMessage) (record.DailyAward, error) {
	var d awardDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return record.DailyAward{}, fmt.Errorf("award document: %w", err)
	}
	if err := checkVersion(d.SchemaVersion, "award"); err != nil {
		return record.DailyAward{}, err
	}
	if err := record.ValidateDateKey(d.DateKey); err != nil {
		return record.DailyAward{}, fmt.Errorf("award document: %w", err)
	}
	return record.DailyAward{
		UserID:             userID,
		DateKey:            d.DateKey,
		XPGranted:          d.XPGranted,
		AllHabitsCompleted: d.AllHabitsCompleted,
		CreatedAt:          wireTime(d.CreatedAt),
	}, nil
}

// EncodeXPState encodes the shared XP snapshot.
func EncodeXPState(x record.XPState) (json.RawMessage, error) {
	return json.Marshal(xpStateDoc{
		SchemaVersion:  CurrentSchemaVersion,
		TotalXP:        x.TotalXP,
		Level:          x.Level,
		CurrentLevelXP: x.CurrentLevelXP,
		LastUpdated:    wireMillis(x.LastUpdated),
	})
}

// DecodeXPState decodes the shared XP snapshot.
func DecodeXPState(data json.RawMessage) (record.XPState, error) {
	var d xpStateDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return record.XPState{}, fmt.Errorf("xp state document: %w", err)
	}
	if err := checkVersion(d.SchemaVersion, "xp state"); err != nil {
		return record.XPState{}, err
	}
	return record.XPState{
		TotalXP:        d.TotalXP,
		Level:          d.Level,
		CurrentLevelXP: d.CurrentLevelXP,
		LastUpdated:    wireTime(d.LastUpdated),
	}, nil
}

// OperationIDOf extracts just the operationId from an event document without
// a full decode. Used for replay detection on read.
func OperationIDOf(data json.RawMessage) (string, bool) {
	var probe struct {
		OperationID string `json:"operationId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false
	}
	return probe.OperationID, probe.OperationID != ""
}

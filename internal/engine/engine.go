// Package engine is the bidirectional sync engine: it reconciles the local
// always-available store with the shared remote document store across
// devices and intermittent connectivity, guaranteeing no duplicate XP
// grants, no resurrected deletions, and no silent data loss.
//
// One logical cycle is Pull -> Push(events) -> Push(completions) ->
// Push(awards), each step error-isolated. At most one cycle runs at a time
// system-wide; concurrent triggers are dropped. Idempotency is the retry
// strategy: a failed cycle leaves records unsynced and the watermark
// unadvanced, and the next cycle re-attempts the same work safely.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/idkey"
	"github.com/habitsync/habitsync/internal/identity"
	"github.com/habitsync/habitsync/internal/metrics"
	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
	"github.com/habitsync/habitsync/internal/settings"
	"github.com/habitsync/habitsync/internal/store"
	"github.com/habitsync/habitsync/internal/xp"
)

const (
	// Batch sizes for remote uploads. Awards are smaller because each award
	// batch runs inside a remote transaction that also rewrites the shared
	// XP-state document.
	eventBatchSize      = 50
	completionBatchSize = 50
	awardBatchSize      = 10

	// recentWindow bounds the pull fetch for completions and events. A
	// device offline longer than this falls back to a full-history fetch.
	recentWindow = 3 * 30 * 24 * time.Hour

	// DailyAwardXP is the XP granted when every scheduled habit is
	// completed on a day.
	DailyAwardXP = 50
)

// Engine owns the sync pipelines. Construct with New; all collaborators are
// injected so tests can substitute the remote store, identity, and clock.
type Engine struct {
	local    *store.Store
	remote   remote.Store
	settings *settings.Store
	identity identity.Provider
	xp       *xp.Service
	metrics  metrics.Recorder
	guard    *DeletedGuard
	flight   *flight
	opIDs    idkey.OperationIDGenerator

	// OnCacheReload, when set, is called after a habit is deleted during
	// reconciliation so any in-memory UI cache drops stale references
	// instead of recreating them.
	OnCacheReload func(userID string)

	notifications chan Notification

	now func() time.Time

	lastErrMu sync.Mutex
	lastErr   error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the wall clock. Tests use a fixed clock so
// watermark and merge comparisons are deterministic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOperationIDs substitutes the operation id generator.
func WithOperationIDs(gen idkey.OperationIDGenerator) Option {
	return func(e *Engine) { e.opIDs = gen }
}

// WithMetrics substitutes the metrics recorder (default: discard).
func WithMetrics(rec metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = rec }
}

// WithGuard substitutes the recently-deleted guard. Tests inject a fresh
// guard per case.
func WithGuard(g *DeletedGuard) Option {
	return func(e *Engine) { e.guard = g }
}

// New creates an Engine over the given stores and collaborators.
func New(local *store.Store, rem remote.Store, set *settings.Store, ids identity.Provider, xpSvc *xp.Service, opts ...Option) *Engine {
	e := &Engine{
		local:         local,
		remote:        rem,
		settings:      set,
		identity:      ids,
		xp:            xpSvc,
		metrics:       metrics.Nop{},
		guard:         NewDeletedGuard(),
		flight:        newFlight(),
		opIDs:         idkey.UUIDv7Generator{},
		notifications: make(chan Notification, 16),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Guard exposes the recently-deleted guard for collaborators that share it.
func (e *Engine) Guard() *DeletedGuard {
	return e.guard
}

// CycleResult aggregates one full sync cycle.
type CycleResult struct {
	Skipped     bool // guest user, or another cycle already in flight
	Pull        Summary
	Events      PushResult
	Completions PushResult
	Awards      PushResult
}

// RunFullCycle runs Pull -> Push(events) -> Push(completions) ->
// Push(awards) as one logical cycle with per-step error isolation. Pull
// always runs first so freshly pulled remote state is visible to conflict
// checks made during the same cycle's pushes.
//
// A concurrent cycle or a guest user yields Skipped=true with no error and
// no side effects. Partial failures are aggregated; the returned error
// carries the first underlying failure.
func (e *Engine) RunFullCycle(ctx context.Context) (CycleResult, error) {
	userID := e.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		return CycleResult{Skipped: true}, nil
	}
	if !e.flight.TryBegin() {
		slog.Debug("sync already running, dropping trigger", "user", userID)
		return CycleResult{Skipped: true}, nil
	}
	defer e.flight.End()

	start := e.now()
	e.notify(NotifySyncStarted, userID, nil)
	slog.Info("sync cycle starting", "user", userID)

	var res CycleResult
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var err error
	res.Pull, err = e.pull(ctx, userID)
	note(err)

	if ctx.Err() == nil {
		res.Events, err = e.pushEvents(ctx, userID)
		note(err)
	}
	if ctx.Err() == nil {
		res.Completions, err = e.pushCompletions(ctx, userID)
		note(err)
	}
	if ctx.Err() == nil {
		res.Awards, err = e.pushAwards(ctx, userID)
		note(err)
	}
	note(ctx.Err())

	outcome := "ok"
	if firstErr != nil {
		outcome = "partial"
	}
	e.metrics.ObserveSync("cycle", outcome, e.now().Sub(start))
	e.setLastErr(firstErr)

	if firstErr != nil {
		e.notify(NotifySyncFailed, userID, firstErr)
		slog.Warn("sync cycle finished with errors", "user", userID, "err", firstErr)
		return res, fmt.Errorf("sync cycle: %w", firstErr)
	}
	e.notify(NotifySyncCompleted, userID, nil)
	slog.Info("sync cycle completed", "user", userID,
		"pulled_habits", res.Pull.HabitsPulled,
		"pulled_completions", res.Pull.CompletionsPulled,
		"pushed_events", res.Events.Synced,
		"pushed_completions", res.Completions.Synced,
		"pushed_awards", res.Awards.Synced)
	return res, nil
}

// Status reports the aggregate sync status for the current user: synced,
// syncing, pending(count), or error. Guests always read as synced.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	userID := e.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		return Status{State: StateSynced}, nil
	}
	if e.flight.Busy() {
		return Status{State: StateSyncing}, nil
	}
	if err := e.getLastErr(); err != nil {
		return Status{State: StateError, Err: err}, nil
	}

	pending, err := e.pendingCount(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if pending > 0 {
		return Status{State: StatePending, Pending: pending}, nil
	}
	return Status{State: StateSynced}, nil
}

func (e *Engine) pendingCount(ctx context.Context, userID string) (int, error) {
	events, err := e.local.CountUnsyncedEvents(ctx, userID)
	if err != nil {
		return 0, newSyncError(ErrCodeFetchFailed, "status", userID, err)
	}
	completions, err := e.local.ListUnsyncedCompletions(ctx, userID)
	if err != nil {
		return 0, newSyncError(ErrCodeFetchFailed, "status", userID, err)
	}
	awards, err := e.local.ListUnsyncedAwards(ctx, userID)
	if err != nil {
		return 0, newSyncError(ErrCodeFetchFailed, "status", userID, err)
	}
	return events + len(completions) + len(awards), nil
}

// RecordProgress is the local mutation path behind a habit tap: append a
// progress event to the outbox, fold it into the materialized completion
// row, and grant the daily award when every scheduled habit is now
// complete. Entirely local; no sync failure can ever block it.
func (e *Engine) RecordProgress(ctx context.Context, habitID, dateKey string, kind record.EventKind, amount int) error {
	userID := e.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		// Guests still track locally; sync entry points skip them later.
		userID = record.GuestUserID
	}

	habit, err := e.local.GetHabit(ctx, userID, habitID)
	if err != nil {
		return newSyncError(ErrCodeFetchFailed, "record progress", userID, err)
	}
	if err := record.ValidateDateKey(dateKey); err != nil {
		return newSyncError(ErrCodeInvalidData, "record progress", userID, err)
	}

	now := e.now()
	opID := e.opIDs.Generate()
	event := record.ProgressEvent{
		ID:          opID,
		UserID:      userID,
		HabitID:     habitID,
		DateKey:     dateKey,
		OperationID: opID,
		Kind:        kind,
		Amount:      amount,
		CreatedAt:   now,
	}
	if err := e.local.AppendEvent(ctx, event); err != nil {
		return err
	}

	cur, err := e.local.GetCompletion(ctx, userID, habitID, dateKey)
	if errors.Is(err, store.ErrNotFound) {
		cur = record.CompletionRecord{
			UserID: userID, HabitID: habitID, DateKey: dateKey, CreatedAt: now,
		}
	} else if err != nil {
		return newSyncError(ErrCodeFetchFailed, "record progress", userID, err)
	}

	switch kind {
	case record.EventIncrement:
		cur.Progress += amount
	case record.EventDecrement:
		cur.Progress -= amount
		if cur.Progress < 0 {
			cur.Progress = 0
		}
	case record.EventSet:
		cur.Progress = amount
	default:
		return newSyncError(ErrCodeInvalidData, "record progress", userID,
			fmt.Errorf("unknown event kind %q", kind))
	}
	cur.IsCompleted = cur.Progress >= habit.Goal
	cur.UpdatedAt = now
	cur.Synced = false
	if err := e.local.UpsertCompletion(ctx, cur); err != nil {
		return err
	}

	if cur.IsCompleted {
		if err := e.maybeGrantAward(ctx, userID, dateKey, now); err != nil {
			return err
		}
	}
	return nil
}

// maybeGrantAward creates the daily award row once all scheduled habits are
// complete for the day. The (user, day) uniqueness of the ledger makes the
// grant idempotent.
func (e *Engine) maybeGrantAward(ctx context.Context, userID, dateKey string, now time.Time) error {
	if _, err := e.local.GetAward(ctx, userID, dateKey); err == nil {
		return nil // already granted
	} else if !errors.Is(err, store.ErrNotFound) {
		return newSyncError(ErrCodeFetchFailed, "grant award", userID, err)
	}

	complete, err := e.allScheduledComplete(ctx, userID, dateKey)
	if err != nil {
		return err
	}
	if !complete {
		return nil
	}

	award := record.DailyAward{
		UserID:             userID,
		DateKey:            dateKey,
		XPGranted:          DailyAwardXP,
		AllHabitsCompleted: true,
		CreatedAt:          now,
	}
	if err := e.local.UpsertAward(ctx, award); err != nil {
		return err
	}
	slog.Info("daily award granted", "user", userID, "date", dateKey)
	return nil
}

// allScheduledComplete recomputes "were all habits scheduled on that date
// actually completed locally". Also the validation gate for imported
// awards.
func (e *Engine) allScheduledComplete(ctx context.Context, userID, dateKey string) (bool, error) {
	habits, err := e.local.ListHabits(ctx, userID)
	if err != nil {
		return false, newSyncError(ErrCodeFetchFailed, "validate award", userID, err)
	}

	scheduled := 0
	for _, h := range habits {
		if !h.ScheduledOn(dateKey) {
			continue
		}
		scheduled++
		c, err := e.local.GetCompletion(ctx, userID, h.HabitID, dateKey)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, newSyncError(ErrCodeFetchFailed, "validate award", userID, err)
		}
		if !c.IsCompleted {
			return false, nil
		}
	}
	return scheduled > 0, nil
}

// DeleteHabit removes a habit everywhere: mark the recently-deleted guard,
// delete locally, then delete the remote habit document and its dependent
// completion documents. The guard clears only once the remote side is
// confirmed deleted; if the remote delete fails (offline), the guard stays
// set and the next pull's reconciliation finishes the cleanup.
func (e *Engine) DeleteHabit(ctx context.Context, habitID string) error {
	userID := e.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		userID = record.GuestUserID
	}

	e.guard.Mark(habitID)

	if err := e.local.DeleteHabit(ctx, userID, habitID); err != nil {
		e.guard.Clear(habitID)
		return err
	}

	if identity.IsGuest(userID) {
		// Nothing remote to clean up for a guest.
		e.guard.Clear(habitID)
		return nil
	}

	if err := e.deleteRemoteHabit(ctx, userID, habitID); err != nil {
		// Guard stays set: the pull merge must not resurrect this habit
		// while the remote copy lingers. Reconciliation will retry.
		slog.Warn("remote habit delete failed, deferring to reconciliation",
			"user", userID, "habit", habitID, "err", err)
		return nil
	}
	e.guard.Clear(habitID)
	return nil
}

// deleteRemoteHabit removes the remote habit document and every remote
// completion document that references it.
func (e *Engine) deleteRemoteHabit(ctx context.Context, userID, habitID string) error {
	if err := e.remote.Delete(ctx, remote.HabitPath(userID, habitID)); err != nil {
		return newSyncError(ErrCodeWriteFailed, "delete remote habit", userID, err)
	}
	return e.deleteRemoteCompletions(ctx, userID, habitID)
}

// deleteRemoteCompletions sweeps every remote completion document of one
// habit across the monthly sub-collections.
func (e *Engine) deleteRemoteCompletions(ctx context.Context, userID, habitID string) error {
	months, err := e.remote.ListSubcollections(ctx, remote.CompletionsRoot(userID))
	if err != nil {
		return newSyncError(ErrCodeWriteFailed, "delete remote completions", userID, err)
	}
	for _, month := range months {
		docs, err := e.remote.List(ctx, remote.CompletionsCollection(userID, month))
		if err != nil {
			return newSyncError(ErrCodeWriteFailed, "delete remote completions", userID, err)
		}
		for _, doc := range docs {
			c, err := remote.DecodeCompletion(userID, doc.Data)
			if err != nil || c.HabitID != habitID {
				continue
			}
			if err := e.remote.Delete(ctx, doc.Path); err != nil {
				return newSyncError(ErrCodeWriteFailed, "delete remote completions", userID, err)
			}
		}
	}
	return nil
}

func (e *Engine) setLastErr(err error) {
	e.lastErrMu.Lock()
	e.lastErr = err
	e.lastErrMu.Unlock()
}

func (e *Engine) getLastErr() error {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	return e.lastErr
}

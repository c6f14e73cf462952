package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/store"
)

// mergeHabit applies one remote habit under last-write-wins. Habits the
// recently-deleted guard covers are never recreated, whatever their
// remote timestamp says.
func (e *Engine) mergeHabit(ctx context.Context, userID string, rh record.Habit) (bool, error) {
	if e.guard.Contains(rh.HabitID) {
		slog.Debug("skipping recently deleted habit", "habit", rh.HabitID)
		return false, nil
	}

	local, err := e.local.GetHabit(ctx, userID, rh.HabitID)
	if errors.Is(err, store.ErrNotFound) {
		rh.LastSyncedAt = e.now()
		if err := e.local.UpsertHabit(ctx, rh); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, newSyncError(ErrCodeFetchFailed, "merge habit", userID, err)
	}

	if rh.UpdatedAt.UnixMilli() <= local.UpdatedAt.UnixMilli() {
		return false, nil
	}
	rh.LastSyncedAt = e.now()
	if err := e.local.UpsertHabit(ctx, rh); err != nil {
		return false, err
	}
	return true, nil
}

// mergeCompletion applies one remote completion. Ordering of the checks
// matters: an unsynced local event for the same habit and day means the
// local row embodies changes the remote copy has not seen yet, so the
// remote version must lose regardless of timestamps.
func (e *Engine) mergeCompletion(ctx context.Context, userID string, rc record.CompletionRecord) (bool, error) {
	dirty, err := e.local.HasUnsyncedEvents(ctx, userID, rc.HabitID, rc.DateKey)
	if err != nil {
		return false, newSyncError(ErrCodeFetchFailed, "merge completion", userID, err)
	}
	if dirty {
		return false, nil
	}

	if e.guard.Contains(rc.HabitID) {
		return false, nil
	}
	// Orphan check: a completion for a habit we do not have locally is
	// either stale or belongs to a habit awaiting deletion cleanup.
	if _, err := e.local.GetHabit(ctx, userID, rc.HabitID); errors.Is(err, store.ErrNotFound) {
		slog.Debug("skipping orphan completion", "habit", rc.HabitID, "date", rc.DateKey)
		return false, nil
	} else if err != nil {
		return false, newSyncError(ErrCodeFetchFailed, "merge completion", userID, err)
	}

	remoteTS := rc.UpdatedAt
	if remoteTS.IsZero() {
		remoteTS = rc.CreatedAt
	}
	if remoteTS.IsZero() {
		remoteTS = record.DistantPast
	}

	local, err := e.local.GetCompletion(ctx, userID, rc.HabitID, rc.DateKey)
	if errors.Is(err, store.ErrNotFound) {
		rc.UpdatedAt = remoteTS
		rc.Synced = true
		if err := e.local.UpsertCompletion(ctx, rc); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, newSyncError(ErrCodeFetchFailed, "merge completion", userID, err)
	}

	switch {
	case remoteTS.UnixMilli() > local.UpdatedAt.UnixMilli():
		// Remote is strictly newer.
	case remoteTS.UnixMilli() < local.UpdatedAt.UnixMilli():
		return false, nil
	case completionEqual(rc, local):
		// Equal timestamps, equal content: converged already.
		return false, nil
	default:
		// Equal timestamps, differing fields: remote wins so every device
		// converges on the same copy.
	}

	// Overwrite means all fields, creation time included; keep the local
	// value only when the remote document never carried one.
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = local.CreatedAt
	}
	rc.UpdatedAt = remoteTS
	rc.Synced = true
	if err := e.local.UpsertCompletion(ctx, rc); err != nil {
		return false, err
	}
	return true, nil
}

// importAward brings one remote award into the local ledger, re-validating
// it against local completion state first. An award that fails validation
// is deleted remotely as well: a stale award in the shared store would
// otherwise reappear on every device forever.
func (e *Engine) importAward(ctx context.Context, userID, path string, ra record.DailyAward) (bool, error) {
	if _, err := e.local.GetAward(ctx, userID, ra.DateKey); err == nil {
		return false, nil // already in the ledger
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, newSyncError(ErrCodeFetchFailed, "import award", userID, err)
	}

	valid, err := e.allScheduledComplete(ctx, userID, ra.DateKey)
	if err != nil {
		return false, err
	}
	if !valid {
		slog.Warn("rejecting invalid remote award", "user", userID, "date", ra.DateKey)
		if err := e.remote.Delete(ctx, path); err != nil {
			return false, newSyncError(ErrCodeWriteFailed, "delete invalid award", userID, err)
		}
		return false, nil
	}

	ra.Synced = true
	if err := e.local.UpsertAward(ctx, ra); err != nil {
		return false, err
	}
	return true, nil
}

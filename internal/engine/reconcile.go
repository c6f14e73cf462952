package engine

import (
	"context"
	"log/slog"

	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
)

// reconcileDeletions resolves the habit id sets of both stores after a
// habit merge. An id present remotely but not locally is a deletion this
// device performed while offline, so the remote copy goes. An id present
// locally but not remotely is either a deletion some other device
// performed (the local copy goes) or a locally created habit the remote
// has never seen (it goes up instead). LastSyncedAt distinguishes the
// two: only a habit that has been observed remotely at least once can be
// remotely deleted.
//
// This runs only after the habit merge within the same pull, which keeps
// a first sync (empty local set, everything freshly merged in) from
// reading as a mass remote deletion. Ids whose merge errored are passed
// in as unmerged: their local absence is unproven, so they are exempt
// from the remote-only cleanup until a later pull merges them.
func (e *Engine) reconcileDeletions(ctx context.Context, userID string, remoteIDs []string, unmerged map[string]bool) error {
	localHabits, err := e.local.ListHabits(ctx, userID)
	if err != nil {
		return newSyncError(ErrCodeFetchFailed, "reconcile deletions", userID, err)
	}

	remoteSet := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteSet[id] = true
	}
	localSet := make(map[string]bool, len(localHabits))
	for _, h := range localHabits {
		localSet[h.HabitID] = true
	}

	var firstErr error
	reloaded := false

	// Remote-only: finish a local deletion's remote cleanup.
	for _, id := range remoteIDs {
		if localSet[id] || unmerged[id] {
			continue
		}
		e.guard.Mark(id)
		if err := e.deleteRemoteHabit(ctx, userID, id); err != nil {
			// Guard stays set so the merge above cannot resurrect the habit
			// on the next pull either; cleanup retries then.
			slog.Warn("remote deletion cleanup failed", "user", userID, "habit", id, "err", err)
			firstErr = firstOf(firstErr, err)
			continue
		}
		e.guard.Clear(id)
		slog.Info("propagated local habit deletion to remote", "user", userID, "habit", id)
	}

	for _, h := range localHabits {
		if remoteSet[h.HabitID] {
			// Both sides have it. A zero LastSyncedAt means this is the first
			// pull to observe the remote copy; record that so a later remote
			// absence reads as a deletion.
			if h.LastSyncedAt.IsZero() {
				if err := e.local.TouchHabitSynced(ctx, userID, h.HabitID, e.now()); err != nil {
					firstErr = firstOf(firstErr, err)
				}
			}
			continue
		}

		// Local-only, never uploaded: a habit created on this device that the
		// remote has not seen. Upload it rather than mistaking it for a
		// remote deletion.
		if h.LastSyncedAt.IsZero() {
			if err := e.uploadHabit(ctx, h); err != nil {
				slog.Warn("habit upload failed, retrying next pull", "user", userID, "habit", h.HabitID, "err", err)
				firstErr = firstOf(firstErr, err)
			}
			continue
		}

		// Local-only and previously synced: honor a deletion made on another
		// device.
		id := h.HabitID
		e.guard.Mark(id)
		if err := e.local.DeleteHabit(ctx, userID, id); err != nil {
			e.guard.Clear(id)
			firstErr = firstOf(firstErr, err)
			continue
		}
		// The deleting device may have crashed mid-cleanup, leaving
		// completion documents behind with no habit document. Sweep them.
		if err := e.deleteRemoteCompletions(ctx, userID, id); err != nil {
			slog.Warn("orphan completion sweep failed", "user", userID, "habit", id, "err", err)
			firstErr = firstOf(firstErr, err)
		}
		e.guard.Clear(id)
		reloaded = true
		slog.Info("applied remote habit deletion locally", "user", userID, "habit", id)
	}

	if reloaded && e.OnCacheReload != nil {
		e.OnCacheReload(userID)
	}
	return firstErr
}

// uploadHabit writes a locally created habit to the remote store and
// stamps LastSyncedAt on success.
func (e *Engine) uploadHabit(ctx context.Context, h record.Habit) error {
	data, err := remote.EncodeHabit(h)
	if err != nil {
		return newSyncError(ErrCodeInvalidData, "upload habit", h.UserID, err)
	}
	if err := e.remote.Set(ctx, remote.HabitPath(h.UserID, h.HabitID), data, true); err != nil {
		return newSyncError(ErrCodeWriteFailed, "upload habit", h.UserID, err)
	}
	return e.local.TouchHabitSynced(ctx, h.UserID, h.HabitID, e.now())
}

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/habitsync/habitsync/internal/identity"
	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
)

// Summary reports one pull: documents merged per kind and the errors of
// any steps that failed. A failing step appends here and the pipeline
// proceeds; the pull as a whole only reports failure through the entry
// point's aggregate error.
type Summary struct {
	Skipped           bool
	HabitsPulled      int
	CompletionsPulled int
	AwardsPulled      int
	EventsPulled      int
	Errors            []error
}

// Pull fetches remote changes since the user's watermark, merges them into
// the local store under the conflict-resolution rules, and reconciles
// deletions. Guests and concurrent syncs are a no-op.
func (e *Engine) Pull(ctx context.Context) (Summary, error) {
	userID := e.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		return Summary{Skipped: true}, nil
	}
	if !e.flight.TryBegin() {
		return Summary{Skipped: true}, nil
	}
	defer e.flight.End()
	return e.pull(ctx, userID)
}

// pull is the unguarded pipeline. Steps run in order - habits (with
// deletion reconciliation), completions, awards, events - each
// independently error-isolated. The watermark advances afterwards unless
// every step failed.
func (e *Engine) pull(ctx context.Context, userID string) (Summary, error) {
	start := e.now()
	var sum Summary
	fail := func(err error) {
		if err != nil {
			sum.Errors = append(sum.Errors, err)
		}
	}

	watermark, ok := e.settings.Watermark(userID)
	if !ok {
		watermark = record.DistantPast
	}

	// First-sync detection: an empty local habit set means a fresh install,
	// so pull everything rather than trusting a possibly-stale per-device
	// watermark.
	count, err := e.local.CountHabits(ctx, userID)
	if err != nil {
		e.metrics.ObserveSync("pull", "error", e.now().Sub(start))
		return sum, newSyncError(ErrCodeFetchFailed, "pull", userID, err)
	}
	firstSync := count == 0
	if firstSync {
		watermark = record.DistantPast
		slog.Info("first sync detected, pulling full history", "user", userID)
	}

	steps := 0
	failedSteps := 0

	// Step 1: habits. The full remote id set is needed for reconciliation
	// regardless of watermark filtering.
	steps++
	if err := e.pullHabits(ctx, userID, watermark, &sum); err != nil {
		failedSteps++
		fail(err)
	}

	// Step 2: completions, bounded to the recent window with a
	// full-history fallback.
	steps++
	if err := e.pullCompletions(ctx, userID, &sum); err != nil {
		failedSteps++
		fail(err)
	}

	// Step 3: awards, created after the watermark, same fallback rule.
	steps++
	if err := e.pullAwards(ctx, userID, watermark, &sum); err != nil {
		failedSteps++
		fail(err)
	}

	// Step 4: events, merged by operationId equality.
	steps++
	if err := e.pullEvents(ctx, userID, &sum); err != nil {
		failedSteps++
		fail(err)
	}

	// The watermark advances after attempting all steps - even a partial
	// pull counts - but never on total failure.
	if failedSteps < steps {
		if err := e.settings.SetWatermark(userID, e.now()); err != nil {
			fail(newSyncError(ErrCodeWriteFailed, "advance watermark", userID, err))
		}
	}

	outcome := "ok"
	if len(sum.Errors) > 0 {
		outcome = "partial"
	}
	e.metrics.ObserveSync("pull", outcome, e.now().Sub(start))

	if len(sum.Errors) > 0 {
		return sum, newSyncError(ErrCodePartialBatchFailure, "pull", userID, sum.Errors[0])
	}
	return sum, nil
}

func (e *Engine) pullHabits(ctx context.Context, userID string, watermark time.Time, sum *Summary) error {
	docs, err := e.remote.List(ctx, remote.HabitsCollection(userID))
	if err != nil {
		return newSyncError(ErrCodeFetchFailed, "pull habits", userID, err)
	}

	remoteIDs := make([]string, 0, len(docs))
	unmerged := make(map[string]bool)
	for _, doc := range docs {
		h, err := remote.DecodeHabit(userID, doc.Data)
		if err != nil {
			slog.Warn("skipping malformed habit document", "path", doc.Path, "err", err)
			continue
		}
		remoteIDs = append(remoteIDs, h.HabitID)

		// A document with no usable timestamp cannot be watermark-filtered;
		// merge it unconditionally and let last-write-wins protect newer
		// local state.
		ts := h.UpdatedAt
		if ts.IsZero() {
			ts = h.CreatedAt
		}
		if !ts.IsZero() && !ts.After(watermark) {
			continue
		}
		applied, err := e.mergeHabit(ctx, userID, h)
		if err != nil {
			// A failed merge says nothing about deletion. Keep the id off
			// the remote-only cleanup pass so a transient local error can
			// never turn into a remote delete.
			unmerged[h.HabitID] = true
			sum.Errors = append(sum.Errors, err)
			continue
		}
		if applied {
			sum.HabitsPulled++
		}
	}

	// Reconciliation uses the full remote id set captured above, not the
	// watermark-filtered subset.
	if err := e.reconcileDeletions(ctx, userID, remoteIDs, unmerged); err != nil {
		sum.Errors = append(sum.Errors, err)
	}
	return nil
}

func (e *Engine) pullCompletions(ctx context.Context, userID string, sum *Summary) error {
	docs, err := e.listMonthly(ctx, userID, remote.CompletionsRoot(userID), func(m string) string {
		return remote.CompletionsCollection(userID, m)
	})
	if err != nil {
		return newSyncError(ErrCodeFetchFailed, "pull completions", userID, err)
	}

	for _, doc := range docs {
		c, err := remote.DecodeCompletion(userID, doc.Data)
		if err != nil {
			slog.Warn("skipping malformed completion document", "path", doc.Path, "err", err)
			continue
		}
		applied, err := e.mergeCompletion(ctx, userID, c)
		if err != nil {
			sum.Errors = append(sum.Errors, err)
			continue
		}
		if applied {
			sum.CompletionsPulled++
		}
	}
	return nil
}

func (e *Engine) pullAwards(ctx context.Context, userID string, watermark time.Time, sum *Summary) error {
	docs, err := e.remote.List(ctx, remote.AwardsCollection(userID))
	if err != nil {
		return newSyncError(ErrCodeFetchFailed, "pull awards", userID, err)
	}

	type decoded struct {
		path  string
		award record.DailyAward
	}
	var all, recent []decoded
	for _, doc := range docs {
		a, err := remote.DecodeAward(userID, doc.Data)
		if err != nil {
			slog.Warn("skipping malformed award document", "path", doc.Path, "err", err)
			continue
		}
		d := decoded{path: doc.Path, award: a}
		all = append(all, d)
		if a.CreatedAt.After(watermark) {
			recent = append(recent, d)
		}
	}
	// Same fallback-to-unfiltered rule as the windowed fetches: an empty
	// filtered set on a long-offline device processes everything.
	if len(recent) == 0 {
		recent = all
	}

	imported := 0
	for _, d := range recent {
		ok, err := e.importAward(ctx, userID, d.path, d.award)
		if err != nil {
			sum.Errors = append(sum.Errors, err)
			continue
		}
		if ok {
			imported++
		}
	}
	sum.AwardsPulled += imported

	// A successful import means some other device granted XP; resync the
	// shared snapshot once so multi-device XP never diverges.
	if imported > 0 {
		if err := e.xp.Resync(ctx, userID); err != nil {
			sum.Errors = append(sum.Errors, err)
		}
	}
	return nil
}

func (e *Engine) pullEvents(ctx context.Context, userID string, sum *Summary) error {
	docs, err := e.listMonthly(ctx, userID, remote.EventsRoot(userID), func(m string) string {
		return remote.EventsCollection(userID, m)
	})
	if err != nil {
		return newSyncError(ErrCodeFetchFailed, "pull events", userID, err)
	}

	for _, doc := range docs {
		ev, err := remote.DecodeEvent(userID, doc.Data)
		if err != nil {
			slog.Warn("skipping malformed event document", "path", doc.Path, "err", err)
			continue
		}

		// Events are immutable facts: a pure insert-if-absent by
		// operationId, no conflict resolution.
		exists, err := e.local.HasEventWithOperationID(ctx, ev.OperationID)
		if err != nil {
			sum.Errors = append(sum.Errors, newSyncError(ErrCodeFetchFailed, "pull events", userID, err))
			continue
		}
		if exists {
			continue
		}

		// Pulled events are another device's already-uploaded actions;
		// store them synced so the push pipeline never re-uploads them.
		ev.Synced = true
		if err := e.local.AppendEvent(ctx, ev); err != nil {
			sum.Errors = append(sum.Errors, err)
			continue
		}
		sum.EventsPulled++
	}
	return nil
}

// listMonthly fetches the recent window of a monthly sub-collection
// layout, falling back to full history when the window comes back empty
// (a device offline longer than the window must not miss anything).
func (e *Engine) listMonthly(ctx context.Context, userID, root string, collection func(month string) string) ([]remote.Document, error) {
	now := e.now()
	months := record.MonthKeysSince(now.Add(-recentWindow), now)

	docs, err := e.listMonths(ctx, months, collection)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		return docs, nil
	}

	allMonths, err := e.remote.ListSubcollections(ctx, root)
	if err != nil {
		return nil, err
	}
	return e.listMonths(ctx, allMonths, collection)
}

func (e *Engine) listMonths(ctx context.Context, months []string, collection func(month string) string) ([]remote.Document, error) {
	var docs []remote.Document
	for _, m := range months {
		batch, err := e.remote.List(ctx, collection(m))
		if err != nil {
			return nil, err
		}
		docs = append(docs, batch...)
	}
	return docs, nil
}

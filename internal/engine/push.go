package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/habitsync/habitsync/internal/idkey"
	"github.com/habitsync/habitsync/internal/identity"
	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
)

// PushResult reports one push pipeline run. A run never fails on a partial
// batch: failed batches are counted and the queue keeps draining.
type PushResult struct {
	Skipped       bool // guest user or concurrent sync in flight
	Synced        int  // records written remotely and marked synced
	AlreadySynced int  // idempotency hits: remote already had the write
	Failed        int  // records in batches that failed
}

// PushEvents uploads locally-unsynced progress events in bounded batches.
// A concurrent sync in flight makes the call a no-op, not an error. The
// returned error, if any, is a PARTIAL_BATCH_FAILURE carrying the first
// underlying failure; successful batches are unaffected by failing ones.
func (e *Engine) PushEvents(ctx context.Context) (PushResult, error) {
	return e.guardedPush(ctx, "events", e.pushEvents)
}

// PushCompletions uploads locally-unsynced completion rows in bounded
// batches, keyed by their deterministic document ids.
func (e *Engine) PushCompletions(ctx context.Context) (PushResult, error) {
	return e.guardedPush(ctx, "completions", e.pushCompletions)
}

// PushAwards uploads locally-unsynced daily awards. Each batch runs inside
// a remote transaction so the award documents, their ledger entries, and
// the shared XP-state update land atomically.
func (e *Engine) PushAwards(ctx context.Context) (PushResult, error) {
	return e.guardedPush(ctx, "awards", e.pushAwards)
}

// guardedPush wraps a push step with the guest check and the single-flight
// guard for standalone (non-cycle) calls.
func (e *Engine) guardedPush(ctx context.Context, kind string, fn func(context.Context, string) (PushResult, error)) (PushResult, error) {
	userID := e.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		return PushResult{Skipped: true}, nil
	}
	if !e.flight.TryBegin() {
		slog.Debug("push dropped, sync already running", "kind", kind)
		return PushResult{Skipped: true}, nil
	}
	defer e.flight.End()
	return fn(ctx, userID)
}

// pushEvents is the unguarded event push used by both the public entry
// point and the full cycle (which already holds the single-flight guard).
func (e *Engine) pushEvents(ctx context.Context, userID string) (PushResult, error) {
	start := e.now()
	events, err := e.local.ListUnsyncedEvents(ctx, userID)
	if err != nil {
		e.metrics.ObserveSync("events", "error", e.now().Sub(start))
		return PushResult{}, newSyncError(ErrCodeFetchFailed, "push events", userID, err)
	}
	e.metrics.SetQueueSize("events", len(events))

	var res PushResult
	var firstErr error

	for batchStart := 0; batchStart < len(events); batchStart += eventBatchSize {
		if ctx.Err() != nil {
			break // cooperative cancellation between batches
		}
		batch := events[batchStart:min(batchStart+eventBatchSize, len(events))]

		var writes []remote.Write
		var confirmed []string // idempotency hits, markable whatever the commit does
		var pending []string   // marked only once the batch commit lands
		for _, ev := range batch {
			monthKey := record.MonthKeyOf(ev.DateKey)
			path := remote.EventPath(userID, monthKey, ev.OperationID)

			// Idempotency: the remote document carries the operation id
			// verbatim; if it is already there, this upload is a replay.
			existing, err := e.remote.Get(ctx, path)
			if err == nil {
				if op, ok := remote.OperationIDOf(existing); ok && op == ev.OperationID {
					res.AlreadySynced++
					confirmed = append(confirmed, ev.ID)
					continue
				}
			} else if !errors.Is(err, remote.ErrDocNotFound) {
				firstErr = firstOf(firstErr, err)
				res.Failed++
				continue
			}

			ev.CreatedAt = record.ClampTimestamp(ev.CreatedAt, e.now())
			data, err := remote.EncodeEvent(ev)
			if err != nil {
				firstErr = firstOf(firstErr, err)
				res.Failed++
				continue
			}
			writes = append(writes, remote.Write{Path: path, Data: data, Merge: true})
			pending = append(pending, ev.ID)
			res.Synced++
		}

		// All-already-synced batches short-circuit to a pure local mark.
		if len(writes) > 0 {
			if err := e.remote.BatchCommit(ctx, writes); err != nil {
				slog.Warn("event batch failed, continuing", "user", userID, "size", len(writes), "err", err)
				firstErr = firstOf(firstErr, err)
				// Only the attempted writes failed; the batch's idempotency
				// hits and per-record failures are already counted.
				res.Synced -= len(writes)
				res.Failed += len(writes)
				pending = nil
			}
		}
		if toMark := append(confirmed, pending...); len(toMark) > 0 {
			if err := e.local.MarkEventsSynced(ctx, toMark); err != nil {
				firstErr = firstOf(firstErr, err)
			}
		}
	}

	return e.finishPush(ctx, "events", userID, res, firstErr, start)
}

func (e *Engine) pushCompletions(ctx context.Context, userID string) (PushResult, error) {
	start := e.now()
	recs, err := e.local.ListUnsyncedCompletions(ctx, userID)
	if err != nil {
		e.metrics.ObserveSync("completions", "error", e.now().Sub(start))
		return PushResult{}, newSyncError(ErrCodeFetchFailed, "push completions", userID, err)
	}
	e.metrics.SetQueueSize("completions", len(recs))

	var res PushResult
	var firstErr error

	for batchStart := 0; batchStart < len(recs); batchStart += completionBatchSize {
		if ctx.Err() != nil {
			break
		}
		batch := recs[batchStart:min(batchStart+completionBatchSize, len(recs))]

		var writes []remote.Write
		var confirmed []record.CompletionRecord
		var pending []record.CompletionRecord
		for _, c := range batch {
			docID := idkey.CompletionDocID(c.HabitID, c.DateKey)
			path := remote.CompletionPath(userID, record.MonthKeyOf(c.DateKey), docID)

			existing, err := e.remote.Get(ctx, path)
			if err == nil {
				if cur, derr := remote.DecodeCompletion(userID, existing); derr == nil && completionEqual(cur, c) {
					res.AlreadySynced++
					confirmed = append(confirmed, c)
					continue
				}
			} else if !errors.Is(err, remote.ErrDocNotFound) {
				firstErr = firstOf(firstErr, err)
				res.Failed++
				continue
			}

			now := e.now()
			c.CreatedAt = record.ClampTimestamp(c.CreatedAt, now)
			c.UpdatedAt = record.ClampTimestamp(c.UpdatedAt, now)
			data, err := remote.EncodeCompletion(docID, c)
			if err != nil {
				firstErr = firstOf(firstErr, err)
				res.Failed++
				continue
			}
			writes = append(writes, remote.Write{Path: path, Data: data, Merge: true})
			pending = append(pending, c)
			res.Synced++
		}

		if len(writes) > 0 {
			if err := e.remote.BatchCommit(ctx, writes); err != nil {
				slog.Warn("completion batch failed, continuing", "user", userID, "size", len(writes), "err", err)
				firstErr = firstOf(firstErr, err)
				res.Synced -= len(writes)
				res.Failed += len(writes)
				pending = nil
			}
		}
		if toMark := append(confirmed, pending...); len(toMark) > 0 {
			if err := e.local.MarkCompletionsSynced(ctx, userID, toMark); err != nil {
				firstErr = firstOf(firstErr, err)
			}
		}
	}

	return e.finishPush(ctx, "completions", userID, res, firstErr, start)
}

func (e *Engine) pushAwards(ctx context.Context, userID string) (PushResult, error) {
	start := e.now()
	awards, err := e.local.ListUnsyncedAwards(ctx, userID)
	if err != nil {
		e.metrics.ObserveSync("awards", "error", e.now().Sub(start))
		return PushResult{}, newSyncError(ErrCodeFetchFailed, "push awards", userID, err)
	}
	e.metrics.SetQueueSize("awards", len(awards))

	var res PushResult
	var firstErr error

	for batchStart := 0; batchStart < len(awards); batchStart += awardBatchSize {
		if ctx.Err() != nil {
			break
		}
		batch := awards[batchStart:min(batchStart+awardBatchSize, len(awards))]

		// Partition on idempotency before opening the transaction: an
		// award already at the remote must not add XP again.
		var toWrite []record.DailyAward
		var toMark []string
		for _, a := range batch {
			path := remote.AwardPath(userID, idkey.AwardDocID(a.UserID, a.DateKey))
			_, err := e.remote.Get(ctx, path)
			if err == nil {
				res.AlreadySynced++
				toMark = append(toMark, a.DateKey)
				continue
			}
			if !errors.Is(err, remote.ErrDocNotFound) {
				firstErr = firstOf(firstErr, err)
				res.Failed++
				continue
			}
			toWrite = append(toWrite, a)
		}

		if len(toWrite) > 0 {
			now := e.now()
			err := e.remote.RunTransaction(ctx, func(tx remote.Tx) error {
				for _, a := range toWrite {
					a.CreatedAt = record.ClampTimestamp(a.CreatedAt, now)
					docID := idkey.AwardDocID(a.UserID, a.DateKey)
					data, err := remote.EncodeAward(docID, a)
					if err != nil {
						return err
					}
					tx.Set(remote.AwardPath(userID, docID), data, true)
					if err := e.xp.ApplyAward(tx, userID, a, now); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				slog.Warn("award transaction failed, continuing", "user", userID, "size", len(toWrite), "err", err)
				firstErr = firstOf(firstErr, err)
				res.Failed += len(toWrite)
			} else {
				for _, a := range toWrite {
					toMark = append(toMark, a.DateKey)
				}
				res.Synced += len(toWrite)
			}
		}

		if err := e.local.MarkAwardsSynced(ctx, userID, toMark); err != nil {
			firstErr = firstOf(firstErr, err)
		}
	}

	return e.finishPush(ctx, "awards", userID, res, firstErr, start)
}

// finishPush records metrics and converts accumulated batch failures into
// the aggregate error surfaced at the entry point.
func (e *Engine) finishPush(_ context.Context, kind, userID string, res PushResult, firstErr error, start time.Time) (PushResult, error) {
	outcome := "ok"
	if firstErr != nil {
		outcome = "partial"
	}
	e.metrics.ObserveSync(kind, outcome, e.now().Sub(start))

	if firstErr != nil {
		return res, newSyncError(ErrCodePartialBatchFailure, "push "+kind, userID, firstErr)
	}
	return res, nil
}

// completionEqual reports whether the remote copy already reflects the
// local row, field for field at wire precision.
func completionEqual(rem, local record.CompletionRecord) bool {
	return rem.IsCompleted == local.IsCompleted &&
		rem.Progress == local.Progress &&
		rem.UpdatedAt.UnixMilli() == local.UpdatedAt.UnixMilli()
}

func firstOf(cur, next error) error {
	if cur != nil {
		return cur
	}
	return next
}

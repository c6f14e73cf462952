package engine

import (
	"context"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
)

// resetSyncedFlags simulates a crash between the confirmed remote write
// and the local acknowledgment: the remote documents exist but the local
// rows still read unsynced.
func (f *fixture) resetSyncedFlags(table string) {
	f.t.Helper()
	if _, err := f.local.DB().ExecContext(context.Background(),
		"UPDATE "+table+" SET synced = 0"); err != nil {
		f.t.Fatalf("reset synced flags on %s: %v", table, err)
	}
}

func TestPushEvents_IdempotentAfterCrash(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 5)

	for i := 0; i < 2; i++ {
		if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
			t.Fatalf("RecordProgress() failed: %v", err)
		}
	}

	res, err := f.eng.PushEvents(ctx)
	if err != nil {
		t.Fatalf("PushEvents() failed: %v", err)
	}
	if res.Synced != 2 || res.AlreadySynced != 0 {
		t.Fatalf("first push = %+v, want 2 synced", res)
	}
	docsBefore := f.rem.Len()

	f.resetSyncedFlags("progress_events")

	writes := 0
	f.rem.WriteHook = func(string) error { writes++; return nil }

	res, err = f.eng.PushEvents(ctx)
	if err != nil {
		t.Fatalf("second PushEvents() failed: %v", err)
	}
	if res.Synced != 0 || res.AlreadySynced != 2 {
		t.Errorf("second push = %+v, want 0 synced, 2 already synced", res)
	}
	if writes != 0 {
		t.Errorf("second push performed %d remote writes, want 0", writes)
	}
	if f.rem.Len() != docsBefore {
		t.Errorf("remote document count changed: %d -> %d", docsBefore, f.rem.Len())
	}
	if n, _ := f.local.CountUnsyncedEvents(ctx, testUser); n != 0 {
		t.Errorf("events still unsynced after replay: %d", n)
	}
}

func TestEndToEnd_OfflineCompletionSync(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 2)

	// Two taps while offline: progress 1 -> 2, goal 2.
	for i := 0; i < 2; i++ {
		if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
			t.Fatalf("RecordProgress() failed: %v", err)
		}
		f.advance(time.Second)
	}
	c, err := f.local.GetCompletion(ctx, testUser, "H1", "2025-03-04")
	if err != nil || !c.IsCompleted || c.Progress != 2 {
		t.Fatalf("local completion = (%+v, %v), want progress 2 completed", c, err)
	}

	// Reconnect.
	res, err := f.eng.PushEvents(ctx)
	if err != nil || res.Synced != 2 {
		t.Fatalf("PushEvents() = (%+v, %v), want 2 synced", res, err)
	}
	for _, op := range []string{"op-0001", "op-0002"} {
		if _, err := f.rem.Get(ctx, remote.EventPath(testUser, "2025-03", op)); err != nil {
			t.Errorf("event document %s missing remotely: %v", op, err)
		}
	}

	res, err = f.eng.PushCompletions(ctx)
	if err != nil || res.Synced != 1 {
		t.Fatalf("PushCompletions() = (%+v, %v), want 1 synced", res, err)
	}
	path := "users/" + testUser + "/completions/2025-03/completions/comp_H1_2025-03-04"
	data, err := f.rem.Get(ctx, path)
	if err != nil {
		t.Fatalf("completion document missing at %s: %v", path, err)
	}
	got, err := remote.DecodeCompletion(testUser, data)
	if err != nil {
		t.Fatalf("DecodeCompletion() failed: %v", err)
	}
	if got.Progress != 2 || !got.IsCompleted {
		t.Errorf("remote completion = %+v, want progress 2 completed", got)
	}

	// Replay after a crash that lost the local acknowledgment: zero remote
	// writes, one idempotency hit.
	f.resetSyncedFlags("completions")
	writes := 0
	f.rem.WriteHook = func(string) error { writes++; return nil }

	res, err = f.eng.PushCompletions(ctx)
	if err != nil {
		t.Fatalf("replay PushCompletions() failed: %v", err)
	}
	if res.Synced != 0 || res.AlreadySynced != 1 {
		t.Errorf("replay = %+v, want synced=0 alreadySynced=1", res)
	}
	if writes != 0 {
		t.Errorf("replay performed %d remote writes, want 0", writes)
	}
}

func TestPushAwards_TransactionalXPGrant(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 1)

	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}

	res, err := f.eng.PushAwards(ctx)
	if err != nil || res.Synced != 1 {
		t.Fatalf("PushAwards() = (%+v, %v), want 1 synced", res, err)
	}

	data, err := f.rem.Get(ctx, remote.XPStatePath(testUser))
	if err != nil {
		t.Fatalf("xp state document missing: %v", err)
	}
	state, err := remote.DecodeXPState(data)
	if err != nil {
		t.Fatalf("DecodeXPState() failed: %v", err)
	}
	if state.TotalXP != DailyAwardXP || state.Level != 1 || state.CurrentLevelXP != DailyAwardXP {
		t.Errorf("xp state = %+v, want %d XP at level 1", state, DailyAwardXP)
	}
	ledger, err := f.rem.List(ctx, remote.XPLedgerCollection(testUser))
	if err != nil {
		t.Fatalf("List(ledger) failed: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(ledger))
	}

	// Replaying the award must not grant XP twice.
	f.resetSyncedFlags("daily_awards")
	res, err = f.eng.PushAwards(ctx)
	if err != nil {
		t.Fatalf("replay PushAwards() failed: %v", err)
	}
	if res.Synced != 0 || res.AlreadySynced != 1 {
		t.Errorf("replay = %+v, want synced=0 alreadySynced=1", res)
	}
	data, _ = f.rem.Get(ctx, remote.XPStatePath(testUser))
	state, _ = remote.DecodeXPState(data)
	if state.TotalXP != DailyAwardXP {
		t.Errorf("total XP after replay = %d, want %d (no double grant)", state.TotalXP, DailyAwardXP)
	}
	if ledger, _ := f.rem.List(ctx, remote.XPLedgerCollection(testUser)); len(ledger) != 1 {
		t.Errorf("ledger entries after replay = %d, want 1", len(ledger))
	}
}

func TestPushEvents_FailedBatchDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 100)

	// Enough events for two batches, with distinct timestamps so the queue
	// order is stable.
	for i := 0; i < eventBatchSize+1; i++ {
		if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
			t.Fatalf("RecordProgress() failed: %v", err)
		}
		f.advance(time.Second)
	}

	// op-0001 sits in the first batch; failing it fails that whole batch.
	f.rem.WriteHook = func(path string) error {
		if path == remote.EventPath(testUser, "2025-03", "op-0001") {
			return context.DeadlineExceeded
		}
		return nil
	}

	res, err := f.eng.PushEvents(ctx)
	if err == nil {
		t.Fatal("PushEvents() succeeded, want partial batch failure")
	}
	if CodeOf(err) != ErrCodePartialBatchFailure {
		t.Errorf("error code = %v, want %v", CodeOf(err), ErrCodePartialBatchFailure)
	}
	if res.Failed != eventBatchSize || res.Synced != 1 {
		t.Errorf("result = %+v, want failed=%d synced=1", res, eventBatchSize)
	}

	// The failed batch stays queued for the next push.
	if n, _ := f.local.CountUnsyncedEvents(ctx, testUser); n != eventBatchSize {
		t.Errorf("unsynced events = %d, want %d", n, eventBatchSize)
	}

	f.rem.WriteHook = nil
	res, err = f.eng.PushEvents(ctx)
	if err != nil || res.Synced != eventBatchSize {
		t.Errorf("retry = (%+v, %v), want %d synced", res, err, eventBatchSize)
	}
}

func TestPushEvents_FailedBatchStillMarksIdempotencyHits(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 5)

	for i := 0; i < 2; i++ {
		if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
			t.Fatalf("RecordProgress() failed: %v", err)
		}
		f.advance(time.Second)
	}
	if res, err := f.eng.PushEvents(ctx); err != nil || res.Synced != 2 {
		t.Fatalf("first push = (%+v, %v), want 2 synced", res, err)
	}

	// A crash lost the local acknowledgment, and op-0002's document has
	// since been wiped remotely. The replay batch holds one idempotency
	// hit and one genuine write, and the write fails.
	f.resetSyncedFlags("progress_events")
	if err := f.rem.Delete(ctx, remote.EventPath(testUser, "2025-03", "op-0002")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	f.rem.WriteHook = func(path string) error {
		if path == remote.EventPath(testUser, "2025-03", "op-0002") {
			return context.DeadlineExceeded
		}
		return nil
	}

	res, err := f.eng.PushEvents(ctx)
	if err == nil {
		t.Fatal("PushEvents() succeeded, want batch failure")
	}
	if res.AlreadySynced != 1 || res.Synced != 0 || res.Failed != 1 {
		t.Errorf("result = %+v, want alreadySynced=1 synced=0 failed=1", res)
	}

	// The idempotency hit is settled whatever the commit did; only the
	// failed write stays queued.
	events, err := f.local.ListUnsyncedEvents(ctx, testUser)
	if err != nil {
		t.Fatalf("ListUnsyncedEvents() failed: %v", err)
	}
	if len(events) != 1 || events[0].OperationID != "op-0002" {
		t.Errorf("unsynced events = %d, want only op-0002 queued", len(events))
	}
}

func TestPush_DroppedWhileSyncInFlight(t *testing.T) {
	f := newFixture(t, testUser)

	if !f.eng.flight.TryBegin() {
		t.Fatal("could not acquire flight guard")
	}
	defer f.eng.flight.End()

	res, err := f.eng.PushEvents(context.Background())
	if err != nil || !res.Skipped {
		t.Errorf("PushEvents() during sync = (%+v, %v), want skipped", res, err)
	}
	cycle, err := f.eng.RunFullCycle(context.Background())
	if err != nil || !cycle.Skipped {
		t.Errorf("RunFullCycle() during sync = (%+v, %v), want skipped", cycle, err)
	}
}

func TestRunFullCycle_Notifications(t *testing.T) {
	f := newFixture(t, testUser)
	f.addHabit("H1", 1)

	if _, err := f.eng.RunFullCycle(context.Background()); err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}

	var kinds []NotificationKind
	for len(f.eng.Notifications()) > 0 {
		kinds = append(kinds, (<-f.eng.Notifications()).Kind)
	}
	if len(kinds) != 2 || kinds[0] != NotifySyncStarted || kinds[1] != NotifySyncCompleted {
		t.Errorf("notifications = %v, want [started completed]", kinds)
	}
}

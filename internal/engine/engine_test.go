package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/identity"
	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
	"github.com/habitsync/habitsync/internal/settings"
	"github.com/habitsync/habitsync/internal/store"
	"github.com/habitsync/habitsync/internal/xp"
)

const testUser = "user-1"

// seqIDs generates deterministic operation ids for tests.
type seqIDs struct{ n int }

func (g *seqIDs) Generate() string {
	g.n++
	return fmt.Sprintf("op-%04d", g.n)
}

type fixture struct {
	t     *testing.T
	clock time.Time
	eng   *Engine
	local *store.Store
	rem   *remote.MemStore
	set   *settings.Store
	xp    *xp.Service
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	return newFixtureWith(t, identity.Static{UserID: userID})
}

func newFixtureWith(t *testing.T, ids identity.Provider) *fixture {
	t.Helper()
	dir := t.TempDir()

	local, err := store.Open(filepath.Join(dir, "local.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	set, err := settings.Open(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatalf("settings.Open() failed: %v", err)
	}

	rem := remote.NewMemStore()
	xpSvc := xp.NewService(rem)

	f := &fixture{
		t:     t,
		clock: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		local: local,
		rem:   rem,
		set:   set,
		xp:    xpSvc,
	}
	f.eng = New(local, rem, set, ids, xpSvc,
		WithClock(func() time.Time { return f.clock }),
		WithOperationIDs(&seqIDs{}),
	)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// addHabit seeds a local habit with Synced-style bookkeeping already done,
// so a test's local set is non-empty and pulls do not trip first-sync.
func (f *fixture) addHabit(habitID string, goal int) record.Habit {
	f.t.Helper()
	h := record.Habit{
		UserID:    testUser,
		HabitID:   habitID,
		Name:      "Habit " + habitID,
		Goal:      goal,
		CreatedAt: f.clock.Add(-24 * time.Hour),
		UpdatedAt: f.clock.Add(-24 * time.Hour),
	}
	if err := f.local.UpsertHabit(context.Background(), h); err != nil {
		f.t.Fatalf("UpsertHabit(%s) failed: %v", habitID, err)
	}
	return h
}

func (f *fixture) seedRemoteHabit(h record.Habit) {
	f.t.Helper()
	data, err := remote.EncodeHabit(h)
	if err != nil {
		f.t.Fatalf("EncodeHabit(%s) failed: %v", h.HabitID, err)
	}
	if err := f.rem.Set(context.Background(), remote.HabitPath(h.UserID, h.HabitID), data, false); err != nil {
		f.t.Fatalf("seed remote habit failed: %v", err)
	}
}

func (f *fixture) seedRemoteCompletion(c record.CompletionRecord) {
	f.t.Helper()
	docID := "comp_" + c.HabitID + "_" + c.DateKey
	data, err := remote.EncodeCompletion(docID, c)
	if err != nil {
		f.t.Fatalf("EncodeCompletion failed: %v", err)
	}
	path := remote.CompletionPath(c.UserID, record.MonthKeyOf(c.DateKey), docID)
	if err := f.rem.Set(context.Background(), path, data, false); err != nil {
		f.t.Fatalf("seed remote completion failed: %v", err)
	}
}

func TestRecordProgress_FoldsEventsIntoCompletion(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 2)

	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("first RecordProgress() failed: %v", err)
	}
	c, err := f.local.GetCompletion(ctx, testUser, "H1", "2025-03-04")
	if err != nil {
		t.Fatalf("GetCompletion() failed: %v", err)
	}
	if c.Progress != 1 || c.IsCompleted {
		t.Errorf("after one increment: progress=%d completed=%v, want 1 false", c.Progress, c.IsCompleted)
	}

	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("second RecordProgress() failed: %v", err)
	}
	c, err = f.local.GetCompletion(ctx, testUser, "H1", "2025-03-04")
	if err != nil {
		t.Fatalf("GetCompletion() failed: %v", err)
	}
	if c.Progress != 2 || !c.IsCompleted || c.Synced {
		t.Errorf("after goal reached: progress=%d completed=%v synced=%v, want 2 true false", c.Progress, c.IsCompleted, c.Synced)
	}

	events, err := f.local.ListUnsyncedEvents(ctx, testUser)
	if err != nil {
		t.Fatalf("ListUnsyncedEvents() failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("unsynced events = %d, want 2", len(events))
	}
	if events[0].OperationID == events[1].OperationID {
		t.Error("both events share an operation id")
	}

	award, err := f.local.GetAward(ctx, testUser, "2025-03-04")
	if err != nil {
		t.Fatalf("GetAward() failed: %v", err)
	}
	if award.XPGranted != DailyAwardXP || !award.AllHabitsCompleted {
		t.Errorf("award = %+v, want %d XP with all completed", award, DailyAwardXP)
	}
}

func TestRecordProgress_DecrementFloorsAtZero(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 3)

	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}
	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventDecrement, 5); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}

	c, err := f.local.GetCompletion(ctx, testUser, "H1", "2025-03-04")
	if err != nil {
		t.Fatalf("GetCompletion() failed: %v", err)
	}
	if c.Progress != 0 {
		t.Errorf("progress = %d, want 0", c.Progress)
	}
}

func TestRecordProgress_UnknownHabit(t *testing.T) {
	f := newFixture(t, testUser)

	err := f.eng.RecordProgress(context.Background(), "nope", "2025-03-04", record.EventIncrement, 1)
	if err == nil {
		t.Fatal("RecordProgress() for unknown habit succeeded, want error")
	}
	if CodeOf(err) != ErrCodeFetchFailed {
		t.Errorf("error code = %v, want %v", CodeOf(err), ErrCodeFetchFailed)
	}
}

func TestAward_NotGrantedWhileScheduledHabitIncomplete(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 1)
	f.addHabit("H2", 2)

	// H1 done, H2 only halfway: no award yet.
	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}
	if err := f.eng.RecordProgress(ctx, "H2", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}
	if _, err := f.local.GetAward(ctx, testUser, "2025-03-04"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetAward() = %v, want ErrNotFound", err)
	}

	if err := f.eng.RecordProgress(ctx, "H2", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}
	if _, err := f.local.GetAward(ctx, testUser, "2025-03-04"); err != nil {
		t.Fatalf("award missing after all habits complete: %v", err)
	}
}

func TestGuestEntryPoints_NoOp(t *testing.T) {
	f := newFixture(t, record.GuestUserID)
	ctx := context.Background()

	res, err := f.eng.RunFullCycle(ctx)
	if err != nil || !res.Skipped {
		t.Errorf("RunFullCycle() = (%+v, %v), want skipped with no error", res, err)
	}
	sum, err := f.eng.Pull(ctx)
	if err != nil || !sum.Skipped {
		t.Errorf("Pull() = (%+v, %v), want skipped with no error", sum, err)
	}
	push, err := f.eng.PushEvents(ctx)
	if err != nil || !push.Skipped {
		t.Errorf("PushEvents() = (%+v, %v), want skipped with no error", push, err)
	}

	st, err := f.eng.Status(ctx)
	if err != nil || st.State != StateSynced {
		t.Errorf("Status() = (%+v, %v), want synced", st, err)
	}
	if f.rem.Len() != 0 {
		t.Errorf("remote has %d documents after guest calls, want 0", f.rem.Len())
	}
	if _, ok := f.set.Watermark(record.GuestUserID); ok {
		t.Error("guest watermark was written")
	}
}

func TestStatus_ReflectsPendingWork(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()
	f.addHabit("H1", 1)

	st, err := f.eng.Status(ctx)
	if err != nil || st.State != StateSynced {
		t.Fatalf("Status() before changes = (%+v, %v), want synced", st, err)
	}

	if err := f.eng.RecordProgress(ctx, "H1", "2025-03-04", record.EventIncrement, 1); err != nil {
		t.Fatalf("RecordProgress() failed: %v", err)
	}
	st, err = f.eng.Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	// One event, one completion, one award (goal 1 completes the day).
	if st.State != StatePending || st.Pending != 3 {
		t.Errorf("Status() = %+v, want pending with 3 records", st)
	}

	if _, err := f.eng.RunFullCycle(ctx); err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}
	st, err = f.eng.Status(ctx)
	if err != nil || st.State != StateSynced {
		t.Errorf("Status() after cycle = (%+v, %v), want synced", st, err)
	}
}

func TestDeleteHabit_RemovesLocalAndRemote(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()

	h := f.addHabit("H1", 1)
	f.seedRemoteHabit(h)
	f.seedRemoteCompletion(record.CompletionRecord{
		UserID: testUser, HabitID: "H1", DateKey: "2025-03-04",
		IsCompleted: true, Progress: 1,
		CreatedAt: f.clock, UpdatedAt: f.clock,
	})

	if err := f.eng.DeleteHabit(ctx, "H1"); err != nil {
		t.Fatalf("DeleteHabit() failed: %v", err)
	}

	if _, err := f.local.GetHabit(ctx, testUser, "H1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("local habit still present: %v", err)
	}
	if _, err := f.rem.Get(ctx, remote.HabitPath(testUser, "H1")); !errors.Is(err, remote.ErrDocNotFound) {
		t.Errorf("remote habit document still present: %v", err)
	}
	path := remote.CompletionPath(testUser, "2025-03", "comp_H1_2025-03-04")
	if _, err := f.rem.Get(ctx, path); !errors.Is(err, remote.ErrDocNotFound) {
		t.Errorf("remote completion document still present: %v", err)
	}
	if f.eng.Guard().Contains("H1") {
		t.Error("guard still marks H1 after a fully confirmed delete")
	}
}

func TestDeleteHabit_GuardStaysSetWhenRemoteFails(t *testing.T) {
	f := newFixture(t, testUser)
	ctx := context.Background()

	h := f.addHabit("H1", 1)
	f.seedRemoteHabit(h)
	f.rem.WriteHook = func(string) error { return errors.New("offline") }

	if err := f.eng.DeleteHabit(ctx, "H1"); err != nil {
		t.Fatalf("DeleteHabit() failed: %v", err)
	}
	if _, err := f.local.GetHabit(ctx, testUser, "H1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("local habit still present: %v", err)
	}
	if !f.eng.Guard().Contains("H1") {
		t.Error("guard cleared despite failed remote delete")
	}

	// Connectivity returns: the next pull's reconciliation finishes the
	// remote cleanup and clears the guard.
	f.rem.WriteHook = nil
	if _, err := f.eng.Pull(ctx); err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if _, err := f.rem.Get(ctx, remote.HabitPath(testUser, "H1")); !errors.Is(err, remote.ErrDocNotFound) {
		t.Errorf("remote habit document survived reconciliation: %v", err)
	}
	if f.eng.Guard().Contains("H1") {
		t.Error("guard still marks H1 after reconciliation")
	}
}

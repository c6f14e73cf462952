package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	s2.Close()
}

func TestHabitRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := record.Habit{
		UserID:     "user-1",
		HabitID:    "H1",
		Name:       "Stretch",
		Goal:       2,
		DaysOfWeek: 1 << uint(time.Tuesday),
		CreatedAt:  time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertHabit(ctx, h); err != nil {
		t.Fatalf("UpsertHabit() failed: %v", err)
	}

	got, err := s.GetHabit(ctx, "user-1", "H1")
	if err != nil {
		t.Fatalf("GetHabit() failed: %v", err)
	}
	if got.Name != "Stretch" || got.Goal != 2 || got.DaysOfWeek != h.DaysOfWeek {
		t.Errorf("GetHabit() = %+v, want %+v", got, h)
	}
	if !got.UpdatedAt.Equal(h.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, h.UpdatedAt)
	}

	// Upsert with newer fields updates in place.
	h.Name = "Morning stretch"
	if err := s.UpsertHabit(ctx, h); err != nil {
		t.Fatalf("second UpsertHabit() failed: %v", err)
	}
	got, _ = s.GetHabit(ctx, "user-1", "H1")
	if got.Name != "Morning stretch" {
		t.Errorf("Name after upsert = %q, want Morning stretch", got.Name)
	}

	if _, err := s.GetHabit(ctx, "user-1", "missing"); err != ErrNotFound {
		t.Errorf("GetHabit(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteHabit_CascadesCompletions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertHabit(ctx, record.Habit{UserID: "u", HabitID: "H1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	c := record.CompletionRecord{UserID: "u", HabitID: "H1", DateKey: "2025-03-04", Progress: 1}
	if err := s.UpsertCompletion(ctx, c); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteHabit(ctx, "u", "H1"); err != nil {
		t.Fatalf("DeleteHabit() failed: %v", err)
	}
	if _, err := s.GetHabit(ctx, "u", "H1"); err != ErrNotFound {
		t.Errorf("habit survived delete: %v", err)
	}
	if _, err := s.GetCompletion(ctx, "u", "H1", "2025-03-04"); err != ErrNotFound {
		t.Errorf("completion survived habit delete: %v", err)
	}
}

func TestCompletionUniquePerDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := record.CompletionRecord{
		UserID: "u", HabitID: "H1", DateKey: "2025-03-04",
		Progress: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.UpsertCompletion(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Progress = 2
	c.IsCompleted = true
	if err := s.UpsertCompletion(ctx, c); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListCompletionsForHabit(ctx, "u", "H1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d rows for one (habit, day), want 1", len(recs))
	}
	if recs[0].Progress != 2 || !recs[0].IsCompleted {
		t.Errorf("row = %+v, want progress=2 completed", recs[0])
	}
}

func TestEventOutbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	e1 := record.ProgressEvent{
		ID: "ev-1", UserID: "u", HabitID: "H1", DateKey: "2025-03-04",
		OperationID: "op-1", Kind: record.EventIncrement, Amount: 1, CreatedAt: now,
	}
	e2 := e1
	e2.ID = "ev-2"
	e2.OperationID = "op-2"
	e2.CreatedAt = now.Add(time.Second)

	for _, e := range []record.ProgressEvent{e1, e2} {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent(%s) failed: %v", e.ID, err)
		}
	}

	// Replaying the same operation id is a silent no-op.
	dup := e1
	dup.ID = "ev-3"
	if err := s.AppendEvent(ctx, dup); err != nil {
		t.Fatalf("duplicate AppendEvent() failed: %v", err)
	}

	events, err := s.ListUnsyncedEvents(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d unsynced events, want 2", len(events))
	}
	if events[0].ID != "ev-1" || events[1].ID != "ev-2" {
		t.Errorf("events out of order: %s, %s", events[0].ID, events[1].ID)
	}

	ok, err := s.HasUnsyncedEvents(ctx, "u", "H1", "2025-03-04")
	if err != nil || !ok {
		t.Errorf("HasUnsyncedEvents() = %v, %v; want true", ok, err)
	}

	if err := s.MarkEventsSynced(ctx, []string{"ev-1", "ev-2"}); err != nil {
		t.Fatalf("MarkEventsSynced() failed: %v", err)
	}
	n, err := s.CountUnsyncedEvents(ctx, "u")
	if err != nil || n != 0 {
		t.Errorf("CountUnsyncedEvents() = %d, %v; want 0", n, err)
	}
	ok, _ = s.HasUnsyncedEvents(ctx, "u", "H1", "2025-03-04")
	if ok {
		t.Error("HasUnsyncedEvents() still true after mark")
	}
}

func TestAppendEvent_RejectsMalformed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := record.ProgressEvent{ID: "ev", UserID: "u", HabitID: "H1", DateKey: "03/04/2025", OperationID: "op"}
	if err := s.AppendEvent(ctx, bad); err == nil {
		t.Error("malformed date key accepted")
	}
	bad = record.ProgressEvent{ID: "ev", UserID: "u", HabitID: "H1", DateKey: "2025-03-04"}
	if err := s.AppendEvent(ctx, bad); err == nil {
		t.Error("empty operation id accepted")
	}
}

func TestAwardLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := record.DailyAward{
		UserID: "u", DateKey: "2025-03-04", XPGranted: 50,
		AllHabitsCompleted: true, CreatedAt: time.Now(),
	}
	if err := s.UpsertAward(ctx, a); err != nil {
		t.Fatal(err)
	}

	unsynced, err := s.ListUnsyncedAwards(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(unsynced) != 1 || unsynced[0].XPGranted != 50 {
		t.Fatalf("unsynced awards = %+v, want one 50 XP entry", unsynced)
	}

	if err := s.MarkAwardsSynced(ctx, "u", []string{"2025-03-04"}); err != nil {
		t.Fatal(err)
	}
	unsynced, _ = s.ListUnsyncedAwards(ctx, "u")
	if len(unsynced) != 0 {
		t.Errorf("awards still unsynced after mark: %+v", unsynced)
	}

	got, err := s.GetAward(ctx, "u", "2025-03-04")
	if err != nil || !got.Synced {
		t.Errorf("GetAward() = %+v, %v; want synced row", got, err)
	}

	if err := s.DeleteAward(ctx, "u", "2025-03-04"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAward(ctx, "u", "2025-03-04"); err != ErrNotFound {
		t.Errorf("award survived delete: %v", err)
	}
}

func TestCountHabits_FirstSyncDetection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.CountHabits(ctx, "u")
	if err != nil || n != 0 {
		t.Fatalf("CountHabits() on empty store = %d, %v; want 0", n, err)
	}
	if err := s.UpsertHabit(ctx, record.Habit{UserID: "u", HabitID: "H1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	n, _ = s.CountHabits(ctx, "u")
	if n != 1 {
		t.Errorf("CountHabits() = %d, want 1", n)
	}
}

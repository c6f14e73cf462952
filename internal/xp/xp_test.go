package xp

import (
	"context"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/record"
	"github.com/habitsync/habitsync/internal/remote"
)

func TestSnapshot_MissingIsZero(t *testing.T) {
	svc := NewService(remote.NewMemStore())
	state, err := svc.Snapshot(context.Background(), "u")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if state.TotalXP != 0 || state.Level != 0 {
		t.Errorf("missing state = %+v, want zero", state)
	}
}

func TestApplyAwardTx(t *testing.T) {
	m := remote.NewMemStore()
	svc := NewService(m)
	ctx := context.Background()
	now := time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC)

	var published []record.XPState
	svc.OnState = func(s record.XPState) { published = append(published, s) }

	award := record.DailyAward{UserID: "u", DateKey: "2025-03-04", XPGranted: 490}
	err := m.RunTransaction(ctx, func(tx remote.Tx) error {
		return svc.ApplyAward(tx, "u", award, now)
	})
	if err != nil {
		t.Fatalf("RunTransaction() failed: %v", err)
	}

	state, err := svc.Snapshot(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if state.TotalXP != 490 || state.Level != 1 || state.CurrentLevelXP != 490 {
		t.Errorf("state after first award = %+v", state)
	}

	// Second award crosses a level boundary.
	award2 := record.DailyAward{UserID: "u", DateKey: "2025-03-05", XPGranted: 50}
	err = m.RunTransaction(ctx, func(tx remote.Tx) error {
		return svc.ApplyAward(tx, "u", award2, now)
	})
	if err != nil {
		t.Fatal(err)
	}
	state, _ = svc.Snapshot(ctx, "u")
	if state.TotalXP != 540 || state.Level != 2 || state.CurrentLevelXP != 40 {
		t.Errorf("state after level-up = %+v", state)
	}

	if len(published) != 2 {
		t.Errorf("OnState called %d times, want 2", len(published))
	}

	// A ledger entry rides with every grant.
	entries, err := m.List(ctx, remote.XPLedgerCollection("u"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("ledger has %d entries, want 2", len(entries))
	}
}

func TestResync(t *testing.T) {
	m := remote.NewMemStore()
	svc := NewService(m)
	ctx := context.Background()

	data, err := remote.EncodeXPState(record.XPState{TotalXP: 777, Level: 2, CurrentLevelXP: 277})
	if err != nil {
		t.Fatal(err)
	}
	m.Set(ctx, remote.XPStatePath("u"), data, false)

	var got record.XPState
	svc.OnState = func(s record.XPState) { got = s }

	if err := svc.Resync(ctx, "u"); err != nil {
		t.Fatalf("Resync() failed: %v", err)
	}
	if got.TotalXP != 777 {
		t.Errorf("resynced totalXP = %d, want 777", got.TotalXP)
	}
}

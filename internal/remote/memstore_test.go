package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemStore_SetMerge(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if err := m.Set(ctx, "users/u/xp/state", json.RawMessage(`{"totalXP":100,"level":1}`), false); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	// Merge updates one field and leaves the rest.
	if err := m.Set(ctx, "users/u/xp/state", json.RawMessage(`{"totalXP":150}`), true); err != nil {
		t.Fatalf("merge Set() failed: %v", err)
	}

	data, err := m.Get(ctx, "users/u/xp/state")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["totalXP"] != float64(150) || got["level"] != float64(1) {
		t.Errorf("merged doc = %v, want totalXP=150 level=1", got)
	}
}

func TestMemStore_GetMissing(t *testing.T) {
	m := NewMemStore()
	if _, err := m.Get(context.Background(), "users/u/habits/H1"); !errors.Is(err, ErrDocNotFound) {
		t.Errorf("Get(missing) = %v, want ErrDocNotFound", err)
	}
}

func TestMemStore_ListDirectChildrenOnly(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	m.Set(ctx, "users/u/habits/H1", json.RawMessage(`{"habitId":"H1"}`), false)
	m.Set(ctx, "users/u/habits/H2", json.RawMessage(`{"habitId":"H2"}`), false)
	// Nested under a sub-collection - must not appear in the habits listing.
	m.Set(ctx, "users/u/completions/2025-03/completions/comp_H1_2025-03-04", json.RawMessage(`{}`), false)

	docs, err := m.List(ctx, "users/u/habits")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("List() returned %d docs, want 2", len(docs))
	}
	if docs[0].Path != "users/u/habits/H1" || docs[1].Path != "users/u/habits/H2" {
		t.Errorf("List() paths = %s, %s", docs[0].Path, docs[1].Path)
	}
}

func TestMemStore_ListSubcollections(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	m.Set(ctx, "users/u/completions/2025-02/completions/a", json.RawMessage(`{}`), false)
	m.Set(ctx, "users/u/completions/2025-03/completions/b", json.RawMessage(`{}`), false)
	m.Set(ctx, "users/u/completions/2025-03/completions/c", json.RawMessage(`{}`), false)

	months, err := m.ListSubcollections(ctx, "users/u/completions")
	if err != nil {
		t.Fatalf("ListSubcollections() failed: %v", err)
	}
	if len(months) != 2 || months[0] != "2025-02" || months[1] != "2025-03" {
		t.Errorf("ListSubcollections() = %v, want [2025-02 2025-03]", months)
	}
}

func TestMemStore_BatchCommitAtomic(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	failOn := "users/u/habits/H2"
	m.WriteHook = func(path string) error {
		if path == failOn {
			return errors.New("injected write failure")
		}
		return nil
	}

	err := m.BatchCommit(ctx, []Write{
		{Path: "users/u/habits/H1", Data: json.RawMessage(`{"habitId":"H1"}`)},
		{Path: failOn, Data: json.RawMessage(`{"habitId":"H2"}`)},
	})
	if err == nil {
		t.Fatal("BatchCommit() with failing write succeeded")
	}
	// Nothing from the failed batch may have landed.
	if m.Len() != 0 {
		t.Errorf("failed batch left %d documents behind", m.Len())
	}

	m.WriteHook = nil
	err = m.BatchCommit(ctx, []Write{
		{Path: "users/u/habits/H1", Data: json.RawMessage(`{"habitId":"H1"}`)},
		{Path: "users/u/habits/H2", Data: json.RawMessage(`{"habitId":"H2"}`)},
	})
	if err != nil {
		t.Fatalf("BatchCommit() failed: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("store has %d documents, want 2", m.Len())
	}
}

func TestMemStore_BatchCommitDelete(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	m.Set(ctx, "users/u/habits/H1", json.RawMessage(`{}`), false)

	if err := m.BatchCommit(ctx, []Write{{Path: "users/u/habits/H1", Delete: true}}); err != nil {
		t.Fatalf("BatchCommit(delete) failed: %v", err)
	}
	if _, err := m.Get(ctx, "users/u/habits/H1"); !errors.Is(err, ErrDocNotFound) {
		t.Error("document survived batched delete")
	}
}

func TestMemStore_RunTransaction(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	path := "users/u/xp/state"

	// First transaction sees no document and writes two atomically.
	err := m.RunTransaction(ctx, func(tx Tx) error {
		if _, err := tx.Get(path); !errors.Is(err, ErrDocNotFound) {
			t.Errorf("first transaction Get() = %v, want ErrDocNotFound", err)
		}
		tx.Set(path, json.RawMessage(`{"totalXP":50}`), false)
		tx.Set("users/u/xp_ledger/e1", json.RawMessage(`{"xpGranted":50}`), false)

		// Reads inside the transaction see its own buffered writes.
		if data, err := tx.Get(path); err != nil || string(data) != `{"totalXP":50}` {
			t.Errorf("read-through-buffer = %s, %v", data, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() failed: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("store has %d documents after transaction, want 2", m.Len())
	}

	// Second transaction reads what the first committed.
	err = m.RunTransaction(ctx, func(tx Tx) error {
		cur, err := tx.Get(path)
		if err != nil {
			return err
		}
		var st struct {
			TotalXP int `json:"totalXP"`
		}
		if err := json.Unmarshal(cur, &st); err != nil {
			return err
		}
		st.TotalXP += 25
		next, err := json.Marshal(st)
		if err != nil {
			return err
		}
		tx.Set(path, next, false)
		return nil
	})
	if err != nil {
		t.Fatalf("second RunTransaction() failed: %v", err)
	}

	data, _ := m.Get(ctx, path)
	var st struct {
		TotalXP int `json:"totalXP"`
	}
	json.Unmarshal(data, &st)
	if st.TotalXP != 75 {
		t.Errorf("totalXP = %d, want 75", st.TotalXP)
	}

	// A failing fn discards all buffered writes.
	wantErr := errors.New("abort")
	err = m.RunTransaction(ctx, func(tx Tx) error {
		tx.Set(path, json.RawMessage(`{"totalXP":0}`), false)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("RunTransaction() error = %v, want %v", err, wantErr)
	}
	data, _ = m.Get(ctx, path)
	json.Unmarshal(data, &st)
	if st.TotalXP != 75 {
		t.Errorf("aborted transaction mutated the document: totalXP = %d", st.TotalXP)
	}
}

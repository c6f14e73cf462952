package idkey

import (
	"testing"

	"github.com/google/uuid"
)

func TestCompletionDocID(t *testing.T) {
	got := CompletionDocID("H1", "2025-03-04")
	if got != "comp_H1_2025-03-04" {
		t.Errorf("CompletionDocID() = %q, want comp_H1_2025-03-04", got)
	}
	// Deterministic: same inputs, same id.
	if got != CompletionDocID("H1", "2025-03-04") {
		t.Error("CompletionDocID is not deterministic")
	}
}

func TestAwardDocID(t *testing.T) {
	got := AwardDocID("user-1", "2025-03-04")
	if got != "user-1#2025-03-04" {
		t.Errorf("AwardDocID() = %q, want user-1#2025-03-04", got)
	}
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	a := gen.Generate()
	b := gen.Generate()
	if a == b {
		t.Error("consecutive operation ids must be unique")
	}
	for _, s := range []string{a, b} {
		parsed, err := uuid.Parse(s)
		if err != nil {
			t.Fatalf("Generate() produced unparseable uuid %q: %v", s, err)
		}
		if parsed.Version() != 7 {
			t.Errorf("uuid version = %d, want 7", parsed.Version())
		}
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("op-1", "op-2")
	if got := gen.Generate(); got != "op-1" {
		t.Errorf("first id = %q, want op-1", got)
	}
	if got := gen.Generate(); got != "op-2" {
		t.Errorf("second id = %q, want op-2", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("exhausted generator should panic")
		}
	}()
	gen.Generate()
}

// Package idkey is the single source of truth for "same logical write".
//
// Every idempotency check in the push and pull pipelines goes through these
// derivations; nothing re-derives a remote document id ad hoc. The functions
// are pure (no I/O) so the same local record always maps to the same remote
// document, no matter which device or which retry produces the write.
package idkey

import (
	"sync"

	"github.com/google/uuid"
)

// CompletionDocID derives the deterministic remote document id for a daily
// completion. Writing the same (habit, day) twice targets the same document.
func CompletionDocID(habitID, dateKey string) string {
	return "comp_" + habitID + "_" + dateKey
}

// AwardDocID derives the deterministic remote document id for a daily award.
func AwardDocID(userID, dateKey string) string {
	return userID + "#" + dateKey
}

// OperationIDGenerator produces client-generated idempotency tokens for
// progress events. Implemented by UUIDv7Generator (production) and
// FixedGenerator (tests).
type OperationIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so the outbox
// sorts by creation time when sorted by id. Stateless and safe for
// concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7 string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined operation ids for deterministic
// tests. Panics when the supplied ids are exhausted, so a test that
// generates more ids than expected fails loudly.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("idkey: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

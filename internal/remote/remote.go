// Package remote defines the contract with the shared remote document
// store: the hierarchical path layout, a schema-versioned codec for the
// documents that cross the wire, and the Store interface the sync engine
// drives (get, merge-set, delete, list, batched writes, and
// single-document-set transactions).
//
// The path segments are the wire contract; compatibility partners must
// match them exactly:
//
//	users/{userId}/habits/{habitId}
//	users/{userId}/completions/{yyyy-MM}/completions/{comp_{habitId}_{dateKey}}
//	users/{userId}/events/{yyyy-MM}/events/{operationId}
//	users/{userId}/daily_awards/{userId#dateKey}
//	users/{userId}/xp/state
//	users/{userId}/xp_ledger/{auto-id}
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrDocNotFound is returned by Get when no document exists at the path.
var ErrDocNotFound = errors.New("remote: document not found")

// Document pairs a document path with its raw JSON payload. The json tags
// are the document server's HTTP wire shape.
type Document struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// Write is one entry in a batched commit.
type Write struct {
	Path   string          `json:"path"`
	Data   json.RawMessage `json:"data,omitempty"`
	Merge  bool            `json:"merge,omitempty"` // merge fields into any existing document instead of replacing
	Delete bool            `json:"delete,omitempty"` // delete the document; Data ignored
}

// Store is the remote document store the engine syncs against.
//
// Set with merge=true has "setData-with-merge" semantics: top-level fields
// are merged into any existing document, so replaying the same write twice
// never changes remote state beyond the first application.
//
// BatchCommit applies all writes atomically - either every write lands or
// none do. RunTransaction runs fn against a transactional view; reads see
// prior writes in the same transaction, and the buffered writes commit
// atomically iff fn returns nil. The award push depends on this: the award
// document, its ledger entry, and the shared XP-state update must land in
// one atomic unit.
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, data json.RawMessage, merge bool) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collection string) ([]Document, error)
	ListSubcollections(ctx context.Context, path string) ([]string, error)
	BatchCommit(ctx context.Context, writes []Write) error
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view fn receives inside RunTransaction. Set and Delete are
// buffered until the transaction commits.
type Tx interface {
	Get(path string) (json.RawMessage, error)
	Set(path string, data json.RawMessage, merge bool)
	Delete(path string)
}

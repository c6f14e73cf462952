package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is a complete in-memory Store: merge-set semantics, atomic
// batches, and serialized transactions. It backs tests, the local document
// server, and offline development.
//
// Paths alternate collection/document segments the way the wire layout
// does; a document path always has an even number of segments.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage

	// WriteHook, when set, runs before every mutation with the target path.
	// Returning an error fails the Set/Delete/BatchCommit/RunTransaction.
	// Tests use it to inject remote write failures.
	WriteHook func(path string) error
}

// NewMemStore creates an empty in-memory document store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]json.RawMessage)}
}

// Get returns the document at path, or ErrDocNotFound.
func (m *MemStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[path]
	if !ok {
		return nil, ErrDocNotFound
	}
	return data, nil
}

// Set writes a document. With merge=true, top-level fields merge into any
// existing document; otherwise the document is replaced.
func (m *MemStore) Set(_ context.Context, path string, data json.RawMessage, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hook(path); err != nil {
		return err
	}
	return m.setLocked(path, data, merge)
}

// Delete removes the document at path. Deleting an absent document is a
// no-op.
func (m *MemStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hook(path); err != nil {
		return err
	}
	delete(m.docs, path)
	return nil
}

// List returns the documents directly inside a collection, sorted by path.
func (m *MemStore) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := collection + "/"
	var docs []Document
	for path, data := range m.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		// Direct children only - no further path segments.
		if strings.Contains(path[len(prefix):], "/") {
			continue
		}
		docs = append(docs, Document{Path: path, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ListSubcollections returns the distinct next-level collection names under
// path, sorted. For users/u/completions this yields the month keys.
func (m *MemStore) ListSubcollections(_ context.Context, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := path + "/"
	seen := make(map[string]bool)
	for p := range m.docs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		idx := strings.Index(rest, "/")
		if idx <= 0 {
			continue
		}
		seen[rest[:idx]] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// BatchCommit applies all writes atomically: validation and hooks run for
// every write before any document changes.
func (m *MemStore) BatchCommit(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		if err := m.hook(w.Path); err != nil {
			return fmt.Errorf("batch commit: %w", err)
		}
		if !w.Delete && !json.Valid(w.Data) {
			return fmt.Errorf("batch commit: invalid JSON for %s", w.Path)
		}
	}
	for _, w := range writes {
		if w.Delete {
			delete(m.docs, w.Path)
			continue
		}
		if err := m.setLocked(w.Path, w.Data, w.Merge); err != nil {
			// setLocked only fails on malformed JSON, checked above.
			return fmt.Errorf("batch commit: %w", err)
		}
	}
	return nil
}

// RunTransaction runs fn while holding the store lock, so concurrent
// transactions serialize. Writes buffer in the transaction view and commit
// only if fn returns nil; reads inside the transaction observe its own
// buffered writes.
func (m *MemStore) RunTransaction(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, w := range tx.writes {
		if err := m.hook(w.Path); err != nil {
			return err
		}
	}
	for _, w := range tx.writes {
		if w.Delete {
			delete(m.docs, w.Path)
			continue
		}
		if err := m.setLocked(w.Path, w.Data, w.Merge); err != nil {
			return err
		}
	}
	return nil
}

// memTx buffers transaction writes; Get reads through the buffer.
type memTx struct {
	store  *MemStore
	writes []Write
}

func (t *memTx) Get(path string) (json.RawMessage, error) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].Path != path {
			continue
		}
		if t.writes[i].Delete {
			return nil, ErrDocNotFound
		}
		return t.writes[i].Data, nil
	}
	data, ok := t.store.docs[path]
	if !ok {
		return nil, ErrDocNotFound
	}
	return data, nil
}

func (t *memTx) Set(path string, data json.RawMessage, merge bool) {
	t.writes = append(t.writes, Write{Path: path, Data: append(json.RawMessage(nil), data...), Merge: merge})
}

func (t *memTx) Delete(path string) {
	t.writes = append(t.writes, Write{Path: path, Delete: true})
}

// Len returns the number of stored documents. Test helper.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// setLocked writes without consulting the hook; callers have already
// validated the mutation.
func (m *MemStore) setLocked(path string, data json.RawMessage, merge bool) error {
	if !merge {
		m.docs[path] = append(json.RawMessage(nil), data...)
		return nil
	}

	cur, ok := m.docs[path]
	if !ok {
		m.docs[path] = append(json.RawMessage(nil), data...)
		return nil
	}

	var base, overlay map[string]any
	if err := json.Unmarshal(cur, &base); err != nil {
		return fmt.Errorf("merge set %s: existing document unreadable: %w", path, err)
	}
	if err := json.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("merge set %s: %w", path, err)
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("merge set %s: %w", path, err)
	}
	m.docs[path] = merged
	return nil
}

func (m *MemStore) hook(path string) error {
	if m.WriteHook == nil {
		return nil
	}
	return m.WriteHook(path)
}

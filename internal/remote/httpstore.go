package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrTxnConflict is returned when a transaction keeps losing its
// optimistic-concurrency race after the retry budget.
var ErrTxnConflict = errors.New("remote: transaction conflict")

const txnMaxAttempts = 5

// HTTP wire shapes shared with the document server.

// TxnPrecondition asserts a document revision observed inside a
// transaction. Rev 0 means "document absent".
type TxnPrecondition struct {
	Path string `json:"path"`
	Rev  uint64 `json:"rev"`
}

// BatchRequest is the body of POST /v1/batch.
type BatchRequest struct {
	Writes []Write `json:"writes"`
}

// TxnRequest is the body of POST /v1/txn: apply Writes iff every
// precondition still holds.
type TxnRequest struct {
	Preconditions []TxnPrecondition `json:"preconditions"`
	Writes        []Write           `json:"writes"`
}

// ListResponse is the body of GET /v1/collections/{path}.
type ListResponse struct {
	Documents []Document `json:"documents"`
}

// SubcollectionsResponse is the body of GET /v1/subcollections/{path}.
type SubcollectionsResponse struct {
	Collections []string `json:"collections"`
}

// HTTPStore implements Store against the document server's HTTP API.
// Transactions use optimistic concurrency: reads record document
// revisions, the commit carries them as preconditions, and a conflict
// reruns fn against fresh state.
type HTTPStore struct {
	base string
	hc   *http.Client
}

// NewHTTPStore creates a client for the document server at baseURL.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, _, err := s.getWithRev(ctx, path)
	return data, err
}

// escapePath percent-escapes each path segment so ids with reserved
// characters (award ids carry '#') survive the URL round trip.
func escapePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

func (s *HTTPStore) getWithRev(ctx context.Context, path string) (json.RawMessage, uint64, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/docs/"+escapePath(path), nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	rev, _ := strconv.ParseUint(strings.Trim(resp.Header.Get("ETag"), `"`), 10, 64)
	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("get %s: %w", path, err)
		}
		return data, rev, nil
	case http.StatusNotFound:
		return nil, rev, ErrDocNotFound
	default:
		return nil, 0, httpError("get", path, resp)
	}
}

func (s *HTTPStore) Set(ctx context.Context, path string, data json.RawMessage, merge bool) error {
	target := "/v1/docs/" + escapePath(path)
	if merge {
		target += "?merge=true"
	}
	resp, err := s.do(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return httpError("set", path, resp)
	}
	return nil
}

func (s *HTTPStore) Delete(ctx context.Context, path string) error {
	resp, err := s.do(ctx, http.MethodDelete, "/v1/docs/"+escapePath(path), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return httpError("delete", path, resp)
	}
	return nil
}

func (s *HTTPStore) List(ctx context.Context, collection string) ([]Document, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/collections/"+escapePath(collection), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("list", collection, resp)
	}

	var body ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return body.Documents, nil
}

func (s *HTTPStore) ListSubcollections(ctx context.Context, path string) ([]string, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/subcollections/"+escapePath(path), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("subcollections", path, resp)
	}

	var body SubcollectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("subcollections %s: %w", path, err)
	}
	return body.Collections, nil
}

func (s *HTTPStore) BatchCommit(ctx context.Context, writes []Write) error {
	body, err := json.Marshal(BatchRequest{Writes: writes})
	if err != nil {
		return fmt.Errorf("batch commit: %w", err)
	}
	resp, err := s.do(ctx, http.MethodPost, "/v1/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return httpError("batch commit", "/v1/batch", resp)
	}
	return nil
}

// RunTransaction reruns fn until the revision preconditions gathered by
// its reads commit cleanly, up to the retry budget. A transaction with no
// writes commits trivially.
func (s *HTTPStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < txnMaxAttempts; attempt++ {
		tx := &httpTx{store: s, ctx: ctx, revs: make(map[string]uint64)}
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.writes) == 0 {
			return nil
		}

		req := TxnRequest{Writes: tx.writes}
		for path, rev := range tx.revs {
			req.Preconditions = append(req.Preconditions, TxnPrecondition{Path: path, Rev: rev})
		}
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("transaction: %w", err)
		}

		resp, err := s.do(ctx, http.MethodPost, "/v1/txn", bytes.NewReader(body))
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNoContent:
			return nil
		case http.StatusConflict:
			continue // another writer won; rerun fn against fresh state
		default:
			return httpError("transaction", "/v1/txn", resp)
		}
	}
	return ErrTxnConflict
}

func (s *HTTPStore) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base+target, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return resp, nil
}

func httpError(op, path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote %s %s: status %d: %s", op, path, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// httpTx buffers transaction writes and records the revision of every
// document it reads; reads see buffered writes first.
type httpTx struct {
	store  *HTTPStore
	ctx    context.Context
	revs   map[string]uint64
	writes []Write
}

func (t *httpTx) Get(path string) (json.RawMessage, error) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].Path != path {
			continue
		}
		if t.writes[i].Delete {
			return nil, ErrDocNotFound
		}
		return t.writes[i].Data, nil
	}

	data, rev, err := t.store.getWithRev(t.ctx, path)
	if err != nil && !errors.Is(err, ErrDocNotFound) {
		return nil, err
	}
	if _, seen := t.revs[path]; !seen {
		t.revs[path] = rev
	}
	return data, err
}

func (t *httpTx) Set(path string, data json.RawMessage, merge bool) {
	t.writes = append(t.writes, Write{Path: path, Data: append(json.RawMessage(nil), data...), Merge: merge})
}

func (t *httpTx) Delete(path string) {
	t.writes = append(t.writes, Write{Path: path, Delete: true})
}

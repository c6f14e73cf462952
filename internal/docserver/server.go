// Package docserver is an HTTP document server speaking the remote store
// wire contract: hierarchical document paths, merge-set writes, atomic
// batches, and revision-checked transactions. It backs the serve command
// so clients can sync against a real network endpoint.
package docserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/habitsync/habitsync/internal/remote"
)

// Server holds the documents and their revisions. Revisions are
// monotonic per path and survive deletion, so a delete-and-recreate
// cannot satisfy a stale transaction precondition.
type Server struct {
	mu    sync.Mutex
	store *remote.MemStore
	revs  map[string]uint64
}

// New creates an empty document server.
func New() *Server {
	return &Server{
		store: remote.NewMemStore(),
		revs:  make(map[string]uint64),
	}
}

// Router builds the HTTP API:
//
//	GET/PUT/DELETE /v1/docs/{path}
//	GET /v1/collections/{path}
//	GET /v1/subcollections/{path}
//	POST /v1/batch
//	POST /v1/txn
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/docs/*", s.getDoc)
		r.Put("/docs/*", s.putDoc)
		r.Delete("/docs/*", s.deleteDoc)
		r.Get("/collections/*", s.listCollection)
		r.Get("/subcollections/*", s.listSubcollections)
		r.Post("/batch", s.batch)
		r.Post("/txn", s.txn)
	})
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("docserver request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

// docPath extracts the document path from the wildcard, undoing any
// percent-escaping (award ids carry a literal '#').
func docPath(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if p, err := url.PathUnescape(raw); err == nil {
		return p
	}
	return raw
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)

	s.mu.Lock()
	rev := s.revs[path]
	data, err := s.store.Get(r.Context(), path)
	s.mu.Unlock()

	w.Header().Set("ETag", strconv.FormatUint(rev, 10))
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no document at %s", path))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) putDoc(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	merge := r.URL.Query().Get("merge") == "true"

	var data json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}

	s.mu.Lock()
	err := s.store.Set(r.Context(), path, data, merge)
	if err == nil {
		s.revs[path]++
		w.Header().Set("ETag", strconv.FormatUint(s.revs[path], 10))
	}
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteDoc(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)

	s.mu.Lock()
	err := s.store.Delete(r.Context(), path)
	if err == nil {
		s.revs[path]++
	}
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCollection(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context(), docPath(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, remote.ListResponse{Documents: docs})
}

func (s *Server) listSubcollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListSubcollections(r.Context(), docPath(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, remote.SubcollectionsResponse{Collections: names})
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var req remote.BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed batch request")
		return
	}

	s.mu.Lock()
	err := s.store.BatchCommit(r.Context(), req.Writes)
	if err == nil {
		for _, wr := range req.Writes {
			s.revs[wr.Path]++
		}
	}
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) txn(w http.ResponseWriter, r *http.Request) {
	var req remote.TxnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction request")
		return
	}

	s.mu.Lock()
	for _, pre := range req.Preconditions {
		if s.revs[pre.Path] != pre.Rev {
			s.mu.Unlock()
			writeError(w, http.StatusConflict,
				fmt.Sprintf("revision conflict at %s: have %d, asserted %d", pre.Path, s.revs[pre.Path], pre.Rev))
			return
		}
	}
	err := s.store.BatchCommit(r.Context(), req.Writes)
	if err == nil {
		for _, wr := range req.Writes {
			s.revs[wr.Path]++
		}
	}
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Len reports the number of stored documents.
func (s *Server) Len() int {
	return s.store.Len()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("docserver response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

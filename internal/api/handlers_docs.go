package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 100
)

// handleSearch returns the segments closest to the q parameter.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "vector store disabled", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	n := defaultSearchResults
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			jsonError(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(parsed, maxSearchResults)
	}

	hits, err := s.store.Search(r.Context(), q, n, r.URL.Query().Get("doc_id"))
	if err != nil {
		s.log.Error("search failed", "error", err)
		jsonError(w, "search failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"query": q, "results": hits})
}

// handleDeleteDocument removes a document's segments from the index.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "vector store disabled", http.StatusServiceUnavailable)
		return
	}
	docID := chi.URLParam(r, "docID")
	if err := s.orchestrator.DeleteDocument(r.Context(), docID); err != nil {
		jsonError(w, "delete failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"doc_id": docID, "deleted": true})
}

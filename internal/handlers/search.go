package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/search"
)

// SearchHandler exposes video search.
type SearchHandler struct {
	Search Searcher
}

// Handle implements GET /api/search?q=.
func (h SearchHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(ctx, w, http.StatusBadRequest, "Query parameter is required")
		return
	}
	if h.Search == nil {
		respondError(ctx, w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	results, err := h.Search.Search(ctx, query)
	if err != nil {
		if errors.Is(err, search.ErrNotConfigured) {
			respondError(ctx, w, http.StatusServiceUnavailable, "search is not configured")
			return
		}
		logging.FromContext(ctx).Error("search failed", "query", query, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, results)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aryannaik/course-search/internal/embeddings"
	"github.com/aryannaik/course-search/internal/search"
)

// DefaultK is the number of results returned when the request names none.
const DefaultK = 5

type Handlers struct {
	pipeline *search.Pipeline
	embedder embeddings.Embedder
}

func NewHandlers(pipeline *search.Pipeline, embedder embeddings.Embedder) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		embedder: embedder,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k"`
}

type searchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
	Total   int             `json:"total"`
}

// HandleSearch accepts POST {"query", "k"} or GET ?q=&k=.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest

	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	default:
		req.Query = r.URL.Query().Get("q")
		kStr := r.URL.Query().Get("k")
		if kStr == "" {
			kStr = r.URL.Query().Get("limit")
		}
		if kStr != "" {
			n, err := strconv.Atoi(kStr)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid k"})
				return
			}
			req.K = &n
		}
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query"})
		return
	}

	k := DefaultK
	if req.K != nil {
		k = *req.K
	}
	if k < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "k must not be negative"})
		return
	}

	results, err := h.pipeline.SearchScored(r.Context(), query, k)
	if err != nil {
		status, msg := searchErrorStatus(err)
		log.Error().Err(err).Str("query", query).Msg("Search error")
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:   query,
		Results: results,
		Total:   len(results),
	})
}

func searchErrorStatus(err error) (int, string) {
	var ee *embeddings.EmbeddingError
	switch {
	case errors.Is(err, search.ErrNotReady):
		return http.StatusServiceUnavailable, "index is not built yet"
	case errors.As(err, &ee):
		return http.StatusBadGateway, "embedding backend unavailable"
	default:
		return http.StatusInternalServerError, "search failed"
	}
}

type statusResponse struct {
	search.Status
	EmbedderOK bool `json:"embedderOk"`
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ok := true
	if hc, isChecker := h.embedder.(embeddings.HealthChecker); isChecker {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ok = hc.IsHealthy(ctx)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:     h.pipeline.Status(),
		EmbedderOK: ok,
	})
}

// HandleHealth reports 200 only once the index is ready.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.pipeline.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "building"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/config"
	"github.com/shelterstack/identity-engine/pkg/logging"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/services"
)

// SearchResponse is the payload returned by GET /api/search.
type SearchResponse struct {
	Results []models.SearchResult `json:"results"`
	Total   int                   `json:"total"`
	TookMS  int64                 `json:"took_ms"`
}

// RawSearchResponse is the payload returned by GET /api/search/raw.
type RawSearchResponse struct {
	Results []models.RawSearchResult `json:"results"`
	TookMS  int64                    `json:"took_ms"`
}

// SearchHandler exposes the ranked and raw search endpoints.
type SearchHandler struct {
	searchService    services.SearchService
	rawSearchService services.RawSearchService
	cfg              *config.Config
	logger           *zap.Logger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(searchService services.SearchService, rawSearchService services.RawSearchService, cfg *config.Config, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		searchService:    searchService,
		rawSearchService: rawSearchService,
		cfg:              cfg,
		logger:           logger,
	}
}

// RegisterRoutes registers the search handler's routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", h.Search)
	mux.HandleFunc("GET /api/search/raw", h.SearchRaw)
}

// Search handles GET /api/search requests.
// Malformed input never errors: an unusable query returns an empty result set.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query().Get("q")

	var typeFilter *models.EntityType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := models.EntityType(raw)
		if !t.IsValid() {
			h.writeSearchResponse(w, nil, 0, start)
			return
		}
		typeFilter = &t
	}

	limit, offset := h.parsePaging(r)

	results, total, err := h.searchService.Search(r.Context(), query, typeFilter, limit, offset)
	if err != nil {
		h.logger.Error("Search failed",
			zap.String("query", logging.SanitizeIdentifier(query)),
			zap.String("error", logging.SanitizeError(err)))
		ErrorResponse(w, http.StatusInternalServerError, "search_failed", "Failed to execute search")
		return
	}

	h.writeSearchResponse(w, results, total, start)
}

// SearchRaw handles GET /api/search/raw requests against the staged import tables.
func (h *SearchHandler) SearchRaw(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query().Get("q")
	limit, _ := h.parsePaging(r)

	results, err := h.rawSearchService.SearchRaw(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("Raw search failed",
			zap.String("query", logging.SanitizeIdentifier(query)),
			zap.String("error", logging.SanitizeError(err)))
		ErrorResponse(w, http.StatusInternalServerError, "search_failed", "Failed to execute raw search")
		return
	}

	if results == nil {
		results = []models.RawSearchResult{}
	}

	response := RawSearchResponse{
		Results: results,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode raw search response", zap.Error(err))
	}
}

func (h *SearchHandler) parsePaging(r *http.Request) (limit, offset int) {
	limit = h.cfg.Search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > h.cfg.Search.MaxLimit {
		limit = h.cfg.Search.MaxLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (h *SearchHandler) writeSearchResponse(w http.ResponseWriter, results []models.SearchResult, total int, start time.Time) {
	if results == nil {
		results = []models.SearchResult{}
	}
	response := SearchResponse{
		Results: results,
		Total:   total,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode search response", zap.Error(err))
	}
}

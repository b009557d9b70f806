package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/logging"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/services"
)

const maxObservationBatch = 10000

// IngestRequest is the body for POST /api/ingest/observations.
type IngestRequest struct {
	Observations []models.Observation `json:"observations"`
}

// IngestResponse reports the outcome counts of an ingest run.
type IngestResponse struct {
	Summary models.RunSummary `json:"summary"`
}

// IngestHandler accepts batches of ETL observations for the identity upsert.
type IngestHandler struct {
	ingestService services.IngestService
	logger        *zap.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(ingestService services.IngestService, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{ingestService: ingestService, logger: logger}
}

// RegisterRoutes registers the ingest handler's routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest/observations", h.IngestObservations)
}

// IngestObservations handles POST /api/ingest/observations requests.
// Individual observation failures are logged and counted, not surfaced as
// request errors: a batch always returns a summary.
func (h *IngestHandler) IngestObservations(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(req.Observations) == 0 {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "observations is required")
		return
	}
	if len(req.Observations) > maxObservationBatch {
		ErrorResponse(w, http.StatusRequestEntityTooLarge, "batch_too_large", "Too many observations in one batch")
		return
	}

	summary, err := h.ingestService.ProcessBatch(r.Context(), req.Observations)
	if err != nil {
		h.logger.Error("Ingest batch failed", zap.Int("count", len(req.Observations)), zap.String("error", logging.SanitizeError(err)))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to process observations")
		return
	}

	if err := WriteJSON(w, http.StatusOK, IngestResponse{Summary: summary}); err != nil {
		h.logger.Error("Failed to encode ingest response", zap.Error(err))
	}
}

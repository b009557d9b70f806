package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/apperrors"
	"github.com/shelterstack/identity-engine/pkg/logging"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/services"
)

// EntityResponse is the canonicalized entity detail payload.
type EntityResponse struct {
	ID                    uuid.UUID            `json:"id"`
	RequestedID           uuid.UUID            `json:"requested_id"`
	EntityType            models.EntityType    `json:"entity_type"`
	DisplayName           string               `json:"display_name"`
	DataSource            models.DataSource    `json:"data_source"`
	Address               *string              `json:"address,omitempty"`
	FormattedAddress      *string              `json:"formatted_address,omitempty"`
	VerifiedAt            *time.Time           `json:"verified_at,omitempty"`
	AccountType           *models.AccountType  `json:"account_type,omitempty"`
	AccountTypeConfidence *float64             `json:"account_type_confidence,omitempty"`
	AccountTypeReason     *string              `json:"account_type_reason,omitempty"`
	Protected             bool                 `json:"protected"`
	Identifiers           []IdentifierResponse `json:"identifiers"`
	Links                 []LinkResponse       `json:"links,omitempty"`
}

// IdentifierResponse is one registered identifier on an entity.
type IdentifierResponse struct {
	Kind            models.IdentifierKind `json:"kind"`
	NormalizedValue string                `json:"normalized_value"`
	SourceSystem    string                `json:"source_system"`
	Confidence      float64               `json:"confidence"`
}

// LinkResponse is one relationship attached to a person entity.
type LinkResponse struct {
	LinkedEntityID uuid.UUID `json:"linked_entity_id"`
	Relationship   string    `json:"relationship"`
}

// MergeRequest is the body for POST /api/entities/{id}/merge.
type MergeRequest struct {
	TargetEntityID uuid.UUID `json:"target_entity_id"`
}

// RegisterIdentifierRequest is the body for POST /api/entities/{id}/identifiers.
type RegisterIdentifierRequest struct {
	Kind         models.IdentifierKind `json:"kind"`
	Value        string                `json:"value"`
	SourceSystem string                `json:"source_system"`
	SourceTable  string                `json:"source_table,omitempty"`
}

// RegisterIdentifierResponse reports the outcome of a manual registration.
type RegisterIdentifierResponse struct {
	Outcome models.RegisterOutcome `json:"outcome"`
}

// EntityHandler exposes entity detail, merge chain, merge, and identifier
// registration endpoints.
type EntityHandler struct {
	entityService services.EntityService
	mergeService  services.MergeService
	canonicalizer services.Canonicalizer
	logger        *zap.Logger
}

// NewEntityHandler creates a new EntityHandler.
func NewEntityHandler(entityService services.EntityService, mergeService services.MergeService, canonicalizer services.Canonicalizer, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		entityService: entityService,
		mergeService:  mergeService,
		canonicalizer: canonicalizer,
		logger:        logger,
	}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/entities/{id}", h.GetEntity)
	mux.HandleFunc("GET /api/entities/{id}/chain", h.GetChain)
	mux.HandleFunc("POST /api/entities/{id}/merge", h.MergeEntity)
	mux.HandleFunc("POST /api/entities/{id}/identifiers", h.RegisterIdentifier)
}

// GetEntity handles GET /api/entities/{id} requests. The id may be any
// entity on a merge chain; the response is always the canonical record.
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	detail, err := h.entityService.GetDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			ErrorResponse(w, http.StatusNotFound, "not_found", "Entity not found")
			return
		}
		h.logger.Error("Failed to get entity detail", zap.String("entity_id", id.String()), zap.String("error", logging.SanitizeError(err)))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to get entity")
		return
	}

	response := EntityResponse{
		ID:                    detail.Entity.ID,
		RequestedID:           detail.RequestedID,
		EntityType:            detail.Entity.EntityType,
		DisplayName:           detail.Entity.DisplayName,
		DataSource:            detail.Entity.DataSource,
		Address:               detail.Entity.Address,
		FormattedAddress:      detail.Entity.FormattedAddress,
		VerifiedAt:            detail.Entity.VerifiedAt,
		AccountType:           detail.Entity.AccountType,
		AccountTypeConfidence: detail.Entity.AccountTypeConfidence,
		AccountTypeReason:     detail.Entity.AccountTypeReason,
		Protected:             detail.Entity.IsProtected(),
		Identifiers:           make([]IdentifierResponse, 0, len(detail.Identifiers)),
	}
	for _, ident := range detail.Identifiers {
		response.Identifiers = append(response.Identifiers, IdentifierResponse{
			Kind:            ident.Kind,
			NormalizedValue: ident.NormalizedValue,
			SourceSystem:    ident.SourceSystem,
			Confidence:      ident.Confidence,
		})
	}
	for _, link := range detail.Links {
		response.Links = append(response.Links, LinkResponse{
			LinkedEntityID: link.LinkedEntityID,
			Relationship:   link.Relationship,
		})
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode entity response", zap.Error(err))
	}
}

// GetChain handles GET /api/entities/{id}/chain requests, returning the
// audit view of the merge chain starting at the given id.
func (h *EntityHandler) GetChain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	chain, err := h.canonicalizer.ExplainChain(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to explain merge chain", zap.String("entity_id", id.String()), zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to explain merge chain")
		return
	}

	if err := WriteJSON(w, http.StatusOK, chain); err != nil {
		h.logger.Error("Failed to encode chain response", zap.Error(err))
	}
}

// MergeEntity handles POST /api/entities/{id}/merge requests. The path id
// is the duplicate; the body names the surviving target.
func (h *EntityHandler) MergeEntity(w http.ResponseWriter, r *http.Request) {
	dupID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.TargetEntityID == uuid.Nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "target_entity_id is required")
		return
	}

	if err := h.mergeService.MergeEntities(r.Context(), dupID, req.TargetEntityID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			ErrorResponse(w, http.StatusNotFound, "not_found", "Entity not found")
		case errors.Is(err, apperrors.ErrMergeTypeMismatch):
			ErrorResponse(w, http.StatusConflict, "type_mismatch", "Entities have different types")
		case errors.Is(err, apperrors.ErrAlreadyMerged):
			ErrorResponse(w, http.StatusConflict, "already_merged", "Entity is already merged")
		case errors.Is(err, apperrors.ErrAmbiguousMergeTarget):
			ErrorResponse(w, http.StatusConflict, "ambiguous_target", "Merge target could not be resolved")
		default:
			h.logger.Error("Failed to merge entities",
				zap.String("duplicate_id", dupID.String()),
				zap.String("target_id", req.TargetEntityID.String()),
				zap.String("error", logging.SanitizeError(err)))
			ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to merge entities")
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "merged"}); err != nil {
		h.logger.Error("Failed to encode merge response", zap.Error(err))
	}
}

// RegisterIdentifier handles POST /api/entities/{id}/identifiers requests.
func (h *EntityHandler) RegisterIdentifier(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req RegisterIdentifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.SourceSystem == "" {
		req.SourceSystem = "manual"
	}

	source := services.IdentifierSource{System: req.SourceSystem}
	if req.SourceTable != "" {
		source.Table = req.SourceTable
	}

	outcome, err := h.entityService.RegisterIdentifier(r.Context(), id, req.Kind, req.Value, source)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			ErrorResponse(w, http.StatusNotFound, "not_found", "Entity not found")
		case errors.Is(err, apperrors.ErrInvalidIdentifier):
			ErrorResponse(w, http.StatusBadRequest, "invalid_identifier", "Unknown identifier kind")
		default:
			h.logger.Error("Failed to register identifier",
				zap.String("entity_id", id.String()),
				zap.String("kind", string(req.Kind)),
				zap.String("error", logging.SanitizeError(err)))
			ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to register identifier")
		}
		return
	}

	status := http.StatusOK
	if outcome == models.RegisterOutcomeCreated {
		status = http.StatusCreated
	}
	if err := WriteJSON(w, status, RegisterIdentifierResponse{Outcome: outcome}); err != nil {
		h.logger.Error("Failed to encode identifier response", zap.Error(err))
	}
}

func (h *EntityHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid entity id")
		return uuid.Nil, false
	}
	return id, true
}

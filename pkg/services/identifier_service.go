package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/logging"
	"github.com/shelterstack/identity-engine/pkg/metrics"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// IdentifierSource records where an identifier observation came from.
type IdentifierSource struct {
	System string
	Table  string
}

// IdentifierService is the identifier registry: the substrate all matching is
// built on. It normalizes raw values, consults the blocklist guard, and
// enforces that a (kind, normalized value) pair owns at most one entity.
type IdentifierService interface {
	// Register attaches an identifier to an entity. The uniqueness constraint
	// resolves concurrent registration: one writer wins, the other observes
	// exists_elsewhere. Identifiers are never reassigned automatically.
	Register(ctx context.Context, q database.Querier, entityID uuid.UUID, kind models.IdentifierKind, raw string, source IdentifierSource) (models.RegisterOutcome, error)
	// Lookup normalizes a raw value and returns the owning entity id, or nil
	// when the signal is unknown, blocked, or unparseable.
	Lookup(ctx context.Context, kind models.IdentifierKind, raw string) (*uuid.UUID, error)
	// MatchEntity finds an entity by identifier signals in explicit priority
	// order: email, then phone, then secondary phone. First hit wins; later
	// signals are not consulted once a match is found.
	MatchEntity(ctx context.Context, email, phone, secondaryPhone string) (*uuid.UUID, error)
	ListForEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Identifier, error)
}

type identifierService struct {
	repo    repositories.IdentifierRepository
	guard   BlocklistGuard
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// IdentifierServiceDeps contains dependencies for IdentifierService.
type IdentifierServiceDeps struct {
	Repo    repositories.IdentifierRepository
	Guard   BlocklistGuard
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewIdentifierService creates a new IdentifierService.
func NewIdentifierService(deps *IdentifierServiceDeps) IdentifierService {
	return &identifierService{
		repo:    deps.Repo,
		guard:   deps.Guard,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
}

var _ IdentifierService = (*identifierService)(nil)

func (s *identifierService) Register(ctx context.Context, q database.Querier, entityID uuid.UUID, kind models.IdentifierKind, raw string, source IdentifierSource) (models.RegisterOutcome, error) {
	outcome, err := s.register(ctx, q, entityID, kind, raw, source)
	if err == nil {
		s.metrics.IncRegisterOutcome(string(kind), string(outcome))
	}
	return outcome, err
}

func (s *identifierService) register(ctx context.Context, q database.Querier, entityID uuid.UUID, kind models.IdentifierKind, raw string, source IdentifierSource) (models.RegisterOutcome, error) {
	normalized, ok := models.NormalizeIdentifier(kind, raw)
	if !ok {
		return models.RegisterOutcomeNoSignal, nil
	}

	blocked, err := s.guard.IsBlocklisted(ctx, kind, normalized)
	if err != nil {
		return "", fmt.Errorf("blocklist check failed: %w", err)
	}
	if blocked {
		s.logger.Debug("Identifier blocked",
			zap.String("kind", string(kind)),
			zap.String("value", logging.SanitizeIdentifier(normalized)))
		return models.RegisterOutcomeBlocked, nil
	}

	ident := &models.Identifier{
		EntityID:        entityID,
		Kind:            kind,
		NormalizedValue: normalized,
		RawValue:        raw,
		SourceSystem:    source.System,
	}
	if source.Table != "" {
		ident.SourceTable = &source.Table
	}

	inserted, err := s.repo.Insert(ctx, q, ident)
	if err != nil {
		return "", fmt.Errorf("failed to register identifier: %w", err)
	}
	if inserted {
		return models.RegisterOutcomeCreated, nil
	}

	existing, err := s.repo.GetByKindValue(ctx, kind, normalized)
	if err != nil {
		return "", fmt.Errorf("failed to resolve identifier owner: %w", err)
	}
	if existing != nil && existing.EntityID == entityID {
		// Already linked to this entity; re-registration is a no-op.
		return models.RegisterOutcomeCreated, nil
	}

	return models.RegisterOutcomeExistsElsewhere, nil
}

func (s *identifierService) Lookup(ctx context.Context, kind models.IdentifierKind, raw string) (*uuid.UUID, error) {
	normalized, ok := models.NormalizeIdentifier(kind, raw)
	if !ok {
		return nil, nil
	}

	ident, err := s.repo.GetByKindValue(ctx, kind, normalized)
	if err != nil {
		return nil, fmt.Errorf("identifier lookup failed: %w", err)
	}
	if ident == nil {
		return nil, nil
	}

	id := ident.EntityID
	return &id, nil
}

func (s *identifierService) MatchEntity(ctx context.Context, email, phone, secondaryPhone string) (*uuid.UUID, error) {
	signals := []struct {
		kind models.IdentifierKind
		raw  string
	}{
		{models.IdentifierKindEmail, email},
		{models.IdentifierKindPhone, phone},
		{models.IdentifierKindSecondaryPhone, secondaryPhone},
	}

	for _, signal := range signals {
		if signal.raw == "" {
			continue
		}
		id, err := s.Lookup(ctx, signal.kind, signal.raw)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}

	return nil, nil
}

func (s *identifierService) ListForEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Identifier, error) {
	return s.repo.ListByEntity(ctx, entityID)
}

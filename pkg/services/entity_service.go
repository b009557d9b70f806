package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/apperrors"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// EntityDetail is the canonicalized view of one identity: the canonical
// entity plus every identifier and link recorded anywhere on its merge chain.
type EntityDetail struct {
	Entity      *models.Entity
	RequestedID uuid.UUID
	Identifiers []*models.Identifier
	Links       []*repositories.EntityLink
}

// EntityService reads entity records for consumers. All aggregation
// canonicalizes first: relationships may have been recorded against either
// the duplicate or the canonical id at different times.
type EntityService interface {
	GetDetail(ctx context.Context, id uuid.UUID) (*EntityDetail, error)
	RegisterIdentifier(ctx context.Context, entityID uuid.UUID, kind models.IdentifierKind, raw string, source IdentifierSource) (models.RegisterOutcome, error)
}

type entityService struct {
	entityRepo    repositories.EntityRepository
	identifiers   IdentifierService
	links         repositories.EntityLinkRepository
	canonicalizer Canonicalizer
	logger        *zap.Logger
}

// EntityServiceDeps contains dependencies for EntityService.
type EntityServiceDeps struct {
	EntityRepo    repositories.EntityRepository
	Identifiers   IdentifierService
	Links         repositories.EntityLinkRepository
	Canonicalizer Canonicalizer
	Logger        *zap.Logger
}

// NewEntityService creates a new EntityService.
func NewEntityService(deps *EntityServiceDeps) EntityService {
	return &entityService{
		entityRepo:    deps.EntityRepo,
		identifiers:   deps.Identifiers,
		links:         deps.Links,
		canonicalizer: deps.Canonicalizer,
		logger:        deps.Logger,
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) GetDetail(ctx context.Context, id uuid.UUID) (*EntityDetail, error) {
	canonicalID, err := s.canonicalizer.CanonicalID(ctx, id)
	if err != nil {
		return nil, err
	}

	entity, err := s.entityRepo.GetByID(ctx, canonicalID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
	}

	detail := &EntityDetail{
		Entity:      entity,
		RequestedID: id,
	}

	// Gather evidence from the whole merge group, not just the canonical row.
	// Identifiers and links may sit on any duplicate that was folded in, and
	// the requested id is itself part of the group when it is a duplicate.
	groupIDs, err := s.entityRepo.ListMergeGroup(ctx, canonicalID)
	if err != nil {
		return nil, err
	}
	for _, groupID := range groupIDs {
		identifiers, err := s.identifiers.ListForEntity(ctx, groupID)
		if err != nil {
			return nil, err
		}
		detail.Identifiers = append(detail.Identifiers, identifiers...)

		if entity.EntityType == models.EntityTypePerson {
			links, err := s.links.ListForPerson(ctx, groupID)
			if err != nil {
				return nil, err
			}
			detail.Links = append(detail.Links, links...)
		}
	}

	return detail, nil
}

func (s *entityService) RegisterIdentifier(ctx context.Context, entityID uuid.UUID, kind models.IdentifierKind, raw string, source IdentifierSource) (models.RegisterOutcome, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("identifier kind %q: %w", kind, apperrors.ErrInvalidIdentifier)
	}

	entity, err := s.entityRepo.GetByID(ctx, entityID)
	if err != nil {
		return "", err
	}
	if entity == nil {
		return "", fmt.Errorf("entity %s: %w", entityID, apperrors.ErrNotFound)
	}

	return s.identifiers.Register(ctx, nil, entityID, kind, raw, source)
}

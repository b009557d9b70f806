package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/apperrors"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// MergeService records manual merge decisions. A merge pointer, once set, is
// never cleared; un-merging is a distinct operation that creates a fresh
// canonical entity.
type MergeService interface {
	// MergeEntities marks dup as a duplicate of target. The pointer is
	// written against target's canonical identity so chains stay short.
	MergeEntities(ctx context.Context, dupID, targetID uuid.UUID) error
}

type mergeService struct {
	entityRepo    repositories.EntityRepository
	canonicalizer Canonicalizer
	logger        *zap.Logger
}

// NewMergeService creates a new MergeService.
func NewMergeService(entityRepo repositories.EntityRepository, canonicalizer Canonicalizer, logger *zap.Logger) MergeService {
	return &mergeService{
		entityRepo:    entityRepo,
		canonicalizer: canonicalizer,
		logger:        logger,
	}
}

var _ MergeService = (*mergeService)(nil)

func (s *mergeService) MergeEntities(ctx context.Context, dupID, targetID uuid.UUID) error {
	if dupID == targetID {
		return fmt.Errorf("entity cannot be merged into itself")
	}

	dup, err := s.entityRepo.GetByID(ctx, dupID)
	if err != nil {
		return err
	}
	if dup == nil {
		return fmt.Errorf("duplicate entity %s: %w", dupID, apperrors.ErrNotFound)
	}
	if dup.IsDuplicate() {
		return fmt.Errorf("entity %s: %w", dupID, apperrors.ErrAlreadyMerged)
	}

	target, err := s.entityRepo.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("target entity %s: %w", targetID, apperrors.ErrNotFound)
	}
	if dup.EntityType != target.EntityType {
		return fmt.Errorf("%s into %s: %w", dup.EntityType, target.EntityType, apperrors.ErrMergeTypeMismatch)
	}

	// Point at the target's canonical identity, and refuse a merge that
	// would close the chain into a cycle or pile onto a chain that cannot
	// be resolved (dangling or ambiguous placeholder target).
	chain, err := s.canonicalizer.ExplainChain(ctx, targetID)
	if err != nil {
		return err
	}
	if chain.Unresolved {
		return fmt.Errorf("target %s chain: %w", targetID, apperrors.ErrAmbiguousMergeTarget)
	}
	canonicalTarget, err := s.canonicalizer.CanonicalID(ctx, targetID)
	if err != nil {
		return err
	}
	if canonicalTarget == dupID {
		return fmt.Errorf("target %s already resolves to %s: %w", targetID, dupID, apperrors.ErrAlreadyMerged)
	}

	if err := s.entityRepo.SetMergedInto(ctx, dupID, canonicalTarget); err != nil {
		return err
	}

	s.logger.Info("Merged entities",
		zap.String("duplicate_id", dupID.String()),
		zap.String("canonical_id", canonicalTarget.String()))

	return nil
}

package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/metrics"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// Canonicalizer resolves any entity reference to its current canonical
// identity by following merged_into pointers. Every consumer that must treat
// duplicates as one identity goes through here.
type Canonicalizer interface {
	// CanonicalID follows the merge chain to the terminal canonical entity.
	// The walk is hop-limited; on a data error (cycle, dangling placeholder)
	// it returns the last entity reached rather than failing.
	CanonicalID(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	// ExplainChain walks the same pointers for audit, additionally resolving
	// placeholder targets recorded by external source record id. Unresolved is
	// set when the canonical entity could not be reached.
	ExplainChain(ctx context.Context, id uuid.UUID) (models.ChainExplanation, error)
}

type canonicalizer struct {
	repo    repositories.EntityRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCanonicalizer creates a new Canonicalizer.
func NewCanonicalizer(repo repositories.EntityRepository, m *metrics.Metrics, logger *zap.Logger) Canonicalizer {
	return &canonicalizer{repo: repo, metrics: m, logger: logger}
}

var _ Canonicalizer = (*canonicalizer)(nil)

func (c *canonicalizer) CanonicalID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	current := id
	for hop := 0; hop < models.MaxMergeHops; hop++ {
		pointer, err := c.repo.GetMergePointer(ctx, current)
		if err != nil {
			return uuid.Nil, fmt.Errorf("canonical walk failed at %s: %w", current, err)
		}
		if pointer.TargetID == nil {
			// Either canonical, or a placeholder pointer whose target is not
			// local yet. Both terminate the fast path; ExplainChain reports
			// the difference.
			return current, nil
		}
		current = *pointer.TargetID
	}

	// Hop limit hit: almost certainly a cycle introduced by a bad import.
	// Return the best-known terminal and flag it instead of looping forever.
	c.metrics.IncUnresolvedChain()
	c.logger.Warn("Merge chain exceeded hop limit",
		zap.String("start_entity_id", id.String()),
		zap.String("last_entity_id", current.String()),
		zap.Int("hop_limit", models.MaxMergeHops))
	return current, nil
}

func (c *canonicalizer) ExplainChain(ctx context.Context, id uuid.UUID) (models.ChainExplanation, error) {
	explanation := models.ChainExplanation{Path: []uuid.UUID{id}}

	current := id
	for explanation.Depth < models.MaxMergeHops {
		pointer, err := c.repo.GetMergePointer(ctx, current)
		if err != nil {
			return models.ChainExplanation{}, fmt.Errorf("chain walk failed at %s: %w", current, err)
		}

		var next *uuid.UUID
		switch {
		case pointer.TargetID != nil:
			next = pointer.TargetID
		case pointer.SourceRecordID != nil:
			// Placeholder target: the merge was recorded before the target row
			// was imported. Resolve it by external source record id; zero or
			// multiple matches both mean manual review, never a guess.
			next, err = c.resolvePlaceholder(ctx, *pointer.SourceRecordID)
			if err != nil {
				return models.ChainExplanation{}, err
			}
			if next == nil {
				explanation.Unresolved = true
				c.metrics.IncUnresolvedChain()
				return explanation, nil
			}
		default:
			// Terminal canonical entity.
			return explanation, nil
		}

		explanation.Depth++
		explanation.Path = append(explanation.Path, *next)
		current = *next
	}

	explanation.Unresolved = true
	c.metrics.IncUnresolvedChain()
	c.logger.Warn("Chain explanation hit hop limit",
		zap.String("start_entity_id", id.String()),
		zap.Int("depth", explanation.Depth))
	return explanation, nil
}

func (c *canonicalizer) resolvePlaceholder(ctx context.Context, sourceRecordID string) (*uuid.UUID, error) {
	matches, err := c.repo.FindBySourceRecordID(ctx, sourceRecordID)
	if err != nil {
		return nil, fmt.Errorf("placeholder lookup failed for %q: %w", sourceRecordID, err)
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			c.logger.Warn("Placeholder merge target is ambiguous",
				zap.String("source_record_id", sourceRecordID),
				zap.Int("matches", len(matches)))
		}
		return nil, nil
	}
	id := matches[0].ID
	return &id, nil
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/models"
)

// BlocklistRepository provides data access for blocklist rules.
type BlocklistRepository interface {
	ListAll(ctx context.Context) ([]*models.BlocklistRule, error)
	// Upsert inserts a rule if an identical (kind, pattern, pattern_type)
	// rule does not already exist. Used by the startup rules-file loader.
	Upsert(ctx context.Context, rule *models.BlocklistRule) error
}

type blocklistRepository struct {
	db *database.DB
}

// NewBlocklistRepository creates a new BlocklistRepository.
func NewBlocklistRepository(db *database.DB) BlocklistRepository {
	return &blocklistRepository{db: db}
}

var _ BlocklistRepository = (*blocklistRepository)(nil)

func (r *blocklistRepository) ListAll(ctx context.Context) ([]*models.BlocklistRule, error) {
	query := `
		SELECT id, kind, pattern, pattern_type, reason, created_at
		FROM blocklist_rules
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocklist rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.BlocklistRule
	for rows.Next() {
		var rule models.BlocklistRule
		if err := rows.Scan(
			&rule.ID, &rule.Kind, &rule.Pattern, &rule.PatternType, &rule.Reason, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist rule: %w", err)
		}
		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocklist rules: %w", err)
	}

	return rules, nil
}

func (r *blocklistRepository) Upsert(ctx context.Context, rule *models.BlocklistRule) error {
	rule.CreatedAt = time.Now()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	query := `
		INSERT INTO blocklist_rules (id, kind, pattern, pattern_type, reason, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM blocklist_rules
			WHERE kind IS NOT DISTINCT FROM $2 AND pattern = $3 AND pattern_type = $4
		)`

	_, err := r.db.Pool.Exec(ctx, query,
		rule.ID, rule.Kind, rule.Pattern, rule.PatternType, rule.Reason, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert blocklist rule: %w", err)
	}

	return nil
}

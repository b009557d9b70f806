package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/models"
)

// IdentifierRepository provides data access for identifier rows. Identifiers
// are append-only: there is no update or delete here on purpose.
type IdentifierRepository interface {
	// Insert writes an identifier row. It returns false when the
	// (match kind, normalized value) pair already exists; the uniqueness
	// constraint is the concurrency control, so no locking is needed.
	Insert(ctx context.Context, q database.Querier, ident *models.Identifier) (bool, error)
	// GetByKindValue looks up the owner of a normalized identifier.
	// Returns nil when the pair is unknown.
	GetByKindValue(ctx context.Context, kind models.IdentifierKind, normalized string) (*models.Identifier, error)
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Identifier, error)
	CountByEntity(ctx context.Context, entityID uuid.UUID) (int, error)
}

type identifierRepository struct {
	db *database.DB
}

// NewIdentifierRepository creates a new IdentifierRepository.
func NewIdentifierRepository(db *database.DB) IdentifierRepository {
	return &identifierRepository{db: db}
}

var _ IdentifierRepository = (*identifierRepository)(nil)

func (r *identifierRepository) Insert(ctx context.Context, q database.Querier, ident *models.Identifier) (bool, error) {
	if q == nil {
		q = r.db.Pool
	}

	ident.CreatedAt = time.Now()
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	if ident.Confidence == 0 {
		ident.Confidence = 1.0
	}

	query := `
		INSERT INTO identifiers (
			id, entity_id, kind, normalized_value, raw_value,
			source_system, source_table, confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`

	tag, err := q.Exec(ctx, query,
		ident.ID, ident.EntityID, ident.Kind, ident.NormalizedValue, ident.RawValue,
		ident.SourceSystem, ident.SourceTable, ident.Confidence, ident.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert identifier: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *identifierRepository) GetByKindValue(ctx context.Context, kind models.IdentifierKind, normalized string) (*models.Identifier, error) {
	query := `
		SELECT id, entity_id, kind, normalized_value, raw_value,
		       source_system, source_table, confidence, created_at
		FROM identifiers
		WHERE match_kind = $1 AND normalized_value = $2`

	var ident models.Identifier
	err := r.db.Pool.QueryRow(ctx, query, kind.MatchKind(), normalized).Scan(
		&ident.ID, &ident.EntityID, &ident.Kind, &ident.NormalizedValue, &ident.RawValue,
		&ident.SourceSystem, &ident.SourceTable, &ident.Confidence, &ident.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identifier: %w", err)
	}

	return &ident, nil
}

func (r *identifierRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Identifier, error) {
	query := `
		SELECT id, entity_id, kind, normalized_value, raw_value,
		       source_system, source_table, confidence, created_at
		FROM identifiers
		WHERE entity_id = $1
		ORDER BY kind, created_at`

	rows, err := r.db.Pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer rows.Close()

	var identifiers []*models.Identifier
	for rows.Next() {
		var ident models.Identifier
		if err := rows.Scan(
			&ident.ID, &ident.EntityID, &ident.Kind, &ident.NormalizedValue, &ident.RawValue,
			&ident.SourceSystem, &ident.SourceTable, &ident.Confidence, &ident.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		identifiers = append(identifiers, &ident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identifiers: %w", err)
	}

	return identifiers, nil
}

func (r *identifierRepository) CountByEntity(ctx context.Context, entityID uuid.UUID) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM identifiers WHERE entity_id = $1`, entityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count identifiers: %w", err)
	}
	return count, nil
}

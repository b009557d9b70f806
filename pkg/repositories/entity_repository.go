// Package repositories provides PostgreSQL data access for identity-engine.
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

// MergePointer is the raw merged_into state of an entity row. TargetID is set
// when the target exists locally; SourceRecordID is a placeholder used when
// the target row has not been imported yet.
type MergePointer struct {
	TargetID       *uuid.UUID
	SourceRecordID *string
}

// IsSet reports whether the entity has been merged at all.
func (p MergePointer) IsSet() bool {
	return p.TargetID != nil || p.SourceRecordID != nil
}

// EntityRepository provides data access for entity records.
type EntityRepository interface {
	Create(ctx context.Context, q database.Querier, e *models.Entity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// GetForUpdate locks the entity row for the duration of the surrounding
	// transaction so the protection check and the conditional write cannot
	// race a concurrent manual verification.
	GetForUpdate(ctx context.Context, q database.Querier, id uuid.UUID) (*models.Entity, error)
	Update(ctx context.Context, q database.Querier, e *models.Entity) error
	GetMergePointer(ctx context.Context, id uuid.UUID) (MergePointer, error)
	SetMergedInto(ctx context.Context, dupID, targetID uuid.UUID) error
	// FindBySourceRecordID resolves placeholder merge targets. More than one
	// row may match; the caller decides what ambiguity means.
	FindBySourceRecordID(ctx context.Context, sourceRecordID string) ([]*models.Entity, error)
	// ListMergeGroup returns the canonical id plus every entity whose merge
	// pointer chain resolves into it. Evidence may have been recorded against
	// any id in the group, so aggregating reads walk all of them.
	ListMergeGroup(ctx context.Context, canonicalID uuid.UUID) ([]uuid.UUID, error)
	UpdateAccountType(ctx context.Context, id uuid.UUID, c models.AccountTypeClassification) error
}

type entityRepository struct {
	db *database.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *database.DB) EntityRepository {
	return &entityRepository{db: db}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `
	id, entity_type, display_name, data_source, address, formatted_address,
	verified_at, verified_by, account_type, account_type_confidence,
	account_type_reason, merged_into_entity_id, merged_into_source_record_id,
	source_record_id, created_at, updated_at`

func (r *entityRepository) Create(ctx context.Context, q database.Querier, e *models.Entity) error {
	if q == nil {
		q = r.db.Pool
	}

	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO entities (
			id, entity_type, display_name, data_source, address, formatted_address,
			verified_at, verified_by, account_type, account_type_confidence,
			account_type_reason, merged_into_entity_id, merged_into_source_record_id,
			source_record_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := q.Exec(ctx, query,
		e.ID, e.EntityType, e.DisplayName, e.DataSource, e.Address, e.FormattedAddress,
		e.VerifiedAt, e.VerifiedBy, e.AccountType, e.AccountTypeConfidence,
		e.AccountTypeReason, e.MergedIntoEntityID, e.MergedIntoSourceRecordID,
		e.SourceRecordID, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	query := `SELECT` + entityColumns + ` FROM entities WHERE id = $1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *entityRepository) GetForUpdate(ctx context.Context, q database.Querier, id uuid.UUID) (*models.Entity, error) {
	if q == nil {
		q = r.db.Pool
	}
	query := `SELECT` + entityColumns + ` FROM entities WHERE id = $1 FOR UPDATE`
	return r.scanOne(q.QueryRow(ctx, query, id))
}

func (r *entityRepository) Update(ctx context.Context, q database.Querier, e *models.Entity) error {
	if q == nil {
		q = r.db.Pool
	}

	e.UpdatedAt = time.Now()

	query := `
		UPDATE entities
		SET display_name = $2, data_source = $3, address = $4,
		    formatted_address = $5, verified_at = $6, verified_by = $7,
		    source_record_id = $8, updated_at = $9
		WHERE id = $1`

	tag, err := q.Exec(ctx, query,
		e.ID, e.DisplayName, e.DataSource, e.Address,
		e.FormattedAddress, e.VerifiedAt, e.VerifiedBy,
		e.SourceRecordID, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s not found", e.ID)
	}

	return nil
}

func (r *entityRepository) GetMergePointer(ctx context.Context, id uuid.UUID) (MergePointer, error) {
	query := `
		SELECT merged_into_entity_id, merged_into_source_record_id
		FROM entities WHERE id = $1`

	var p MergePointer
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&p.TargetID, &p.SourceRecordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return MergePointer{}, fmt.Errorf("entity %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return MergePointer{}, fmt.Errorf("failed to read merge pointer: %w", err)
	}

	return p, nil
}

func (r *entityRepository) SetMergedInto(ctx context.Context, dupID, targetID uuid.UUID) error {
	query := `
		UPDATE entities
		SET merged_into_entity_id = $2, updated_at = now()
		WHERE id = $1 AND merged_into_entity_id IS NULL`

	tag, err := r.db.Pool.Exec(ctx, query, dupID, targetID)
	if err != nil {
		return fmt.Errorf("failed to set merge pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s missing or already merged", dupID)
	}

	return nil
}

func (r *entityRepository) FindBySourceRecordID(ctx context.Context, sourceRecordID string) ([]*models.Entity, error) {
	query := `SELECT` + entityColumns + ` FROM entities WHERE source_record_id = $1`

	rows, err := r.db.Pool.Query(ctx, query, sourceRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by source record: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

func (r *entityRepository) ListMergeGroup(ctx context.Context, canonicalID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		WITH RECURSIVE merge_group AS (
			SELECT id FROM entities WHERE id = $1
			UNION
			SELECT e.id FROM entities e
			JOIN merge_group g ON e.merged_into_entity_id = g.id
		)
		SELECT id FROM merge_group`

	rows, err := r.db.Pool.Query(ctx, query, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge group: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan merge group id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merge group: %w", err)
	}

	return ids, nil
}

func (r *entityRepository) UpdateAccountType(ctx context.Context, id uuid.UUID, c models.AccountTypeClassification) error {
	query := `
		UPDATE entities
		SET account_type = $2, account_type_confidence = $3,
		    account_type_reason = $4, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, c.Type, c.Confidence, c.Reason)
	if err != nil {
		return fmt.Errorf("failed to update account type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s not found", id)
	}

	return nil
}

func (r *entityRepository) scanOne(row pgx.Row) (*models.Entity, error) {
	e, err := scanEntityRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntityRow(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	err := row.Scan(
		&e.ID, &e.EntityType, &e.DisplayName, &e.DataSource, &e.Address, &e.FormattedAddress,
		&e.VerifiedAt, &e.VerifiedBy, &e.AccountType, &e.AccountTypeConfidence,
		&e.AccountTypeReason, &e.MergedIntoEntityID, &e.MergedIntoSourceRecordID,
		&e.SourceRecordID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntity(rows pgx.Rows) (*models.Entity, error) {
	e, err := scanEntityRow(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return e, nil
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelterstack/identity-engine/pkg/database"
)

// EntityLink connects a person to a cat or place.
type EntityLink struct {
	ID             uuid.UUID
	PersonID       uuid.UUID
	LinkedEntityID uuid.UUID
	Relationship   string
	CreatedAt      time.Time
}

// LinkCounts summarizes a person's linked records. A person with zero cats
// and zero places is a shell record and gets demoted in search.
type LinkCounts struct {
	Cats   int
	Places int
}

// EntityLinkRepository provides data access for person-to-entity links.
type EntityLinkRepository interface {
	Create(ctx context.Context, link *EntityLink) error
	CountsForPerson(ctx context.Context, personID uuid.UUID) (LinkCounts, error)
	// ListForPerson returns links recorded against the given person id only.
	// Callers aggregating "everything for this identity" must canonicalize
	// first and query each id on the chain.
	ListForPerson(ctx context.Context, personID uuid.UUID) ([]*EntityLink, error)
}

type entityLinkRepository struct {
	db *database.DB
}

// NewEntityLinkRepository creates a new EntityLinkRepository.
func NewEntityLinkRepository(db *database.DB) EntityLinkRepository {
	return &entityLinkRepository{db: db}
}

var _ EntityLinkRepository = (*entityLinkRepository)(nil)

func (r *entityLinkRepository) Create(ctx context.Context, link *EntityLink) error {
	link.CreatedAt = time.Now()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	query := `
		INSERT INTO entity_links (id, person_id, linked_entity_id, relationship, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (person_id, linked_entity_id, relationship) DO NOTHING`

	_, err := r.db.Pool.Exec(ctx, query,
		link.ID, link.PersonID, link.LinkedEntityID, link.Relationship, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity link: %w", err)
	}

	return nil
}

func (r *entityLinkRepository) CountsForPerson(ctx context.Context, personID uuid.UUID) (LinkCounts, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE e.entity_type = 'cat'),
			count(*) FILTER (WHERE e.entity_type = 'place')
		FROM entity_links l
		JOIN entities e ON e.id = l.linked_entity_id
		WHERE l.person_id = $1`

	var counts LinkCounts
	if err := r.db.Pool.QueryRow(ctx, query, personID).Scan(&counts.Cats, &counts.Places); err != nil {
		return LinkCounts{}, fmt.Errorf("failed to count entity links: %w", err)
	}

	return counts, nil
}

func (r *entityLinkRepository) ListForPerson(ctx context.Context, personID uuid.UUID) ([]*EntityLink, error) {
	query := `
		SELECT id, person_id, linked_entity_id, relationship, created_at
		FROM entity_links
		WHERE person_id = $1
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity links: %w", err)
	}
	defer rows.Close()

	var links []*EntityLink
	for rows.Next() {
		var link EntityLink
		if err := rows.Scan(
			&link.ID, &link.PersonID, &link.LinkedEntityID, &link.Relationship, &link.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entity link: %w", err)
		}
		links = append(links, &link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity links: %w", err)
	}

	return links, nil
}

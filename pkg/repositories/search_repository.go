package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/models"
)

// candidateLimit caps how many rows a single query pulls out of the database
// for in-process scoring.
const candidateLimit = 500

// SearchCandidate is one canonical entity pulled from the database for
// scoring, with the evidence the scorer needs already joined in.
type SearchCandidate struct {
	EntityID         uuid.UUID
	EntityType       models.EntityType
	DisplayName      string
	Address          *string
	FormattedAddress *string
	AccountType      *models.AccountType
	Similarity       float64
	// Identifiers is kind:value pairs for every identifier anywhere on the
	// entity's merge group, duplicates included.
	Identifiers     []IdentifierValue
	IdentifierCount int
	CatLinks        int
	PlaceLinks      int
}

// IdentifierValue is an identifier kind and its normalized value.
type IdentifierValue struct {
	Kind  models.IdentifierKind
	Value string
}

// SearchRepository fetches scoring candidates for the ranked search. Only
// canonical entities are candidates: duplicates are collapsed by the merge
// pointer before they ever reach the scorer.
type SearchRepository interface {
	FindCandidates(ctx context.Context, query string, tokens []string, typeFilter *models.EntityType, trigramThreshold float64) ([]*SearchCandidate, error)
}

type searchRepository struct {
	db *database.DB
}

// NewSearchRepository creates a new SearchRepository.
func NewSearchRepository(db *database.DB) SearchRepository {
	return &searchRepository{db: db}
}

var _ SearchRepository = (*searchRepository)(nil)

func (r *searchRepository) FindCandidates(ctx context.Context, query string, tokens []string, typeFilter *models.EntityType, trigramThreshold float64) ([]*SearchCandidate, error) {
	// tokenPatterns is nil (never empty) when there are no usable tokens, so
	// the LIKE ALL clause stays out of play instead of matching everything.
	var tokenPatterns []string
	for _, tok := range tokens {
		tokenPatterns = append(tokenPatterns, "%"+tok+"%")
	}

	sql := `
		SELECT e.id, e.entity_type, e.display_name, e.address, e.formatted_address,
		       e.account_type,
		       similarity(lower(e.display_name), $1) AS sim,
		       COALESCE(ids.pairs, '{}') AS identifier_pairs,
		       COALESCE(ids.cnt, 0) AS identifier_count,
		       COALESCE(links.cats, 0) AS cat_links,
		       COALESCE(links.places, 0) AS place_links
		FROM entities e
		LEFT JOIN LATERAL (
			WITH RECURSIVE merge_group AS (
				SELECT e.id AS gid
				UNION
				SELECT en.id FROM entities en
				JOIN merge_group g ON en.merged_into_entity_id = g.gid
			)
			SELECT array_agg(gid) AS ids FROM merge_group
		) mg ON true
		LEFT JOIN LATERAL (
			SELECT array_agg(i.kind || ':' || i.normalized_value) AS pairs,
			       count(*) AS cnt
			FROM identifiers i WHERE i.entity_id = ANY(mg.ids)
		) ids ON true
		LEFT JOIN LATERAL (
			SELECT count(*) FILTER (WHERE le.entity_type = 'cat') AS cats,
			       count(*) FILTER (WHERE le.entity_type = 'place') AS places
			FROM entity_links l
			JOIN entities le ON le.id = l.linked_entity_id
			WHERE l.person_id = ANY(mg.ids)
		) links ON true
		WHERE e.merged_into_entity_id IS NULL
		  AND e.merged_into_source_record_id IS NULL
		  AND ($4::text IS NULL OR e.entity_type = $4)
		  AND (
			lower(e.display_name) LIKE '%' || $1 || '%'
			OR lower(COALESCE(e.address, '')) LIKE '%' || $1 || '%'
			OR lower(COALESCE(e.formatted_address, '')) LIKE '%' || $1 || '%'
			OR similarity(lower(e.display_name), $1) >= $2
			OR ($5::text[] IS NOT NULL AND lower(concat_ws(' ', e.display_name, e.address, e.formatted_address)) LIKE ALL($5::text[]))
			OR EXISTS (
				SELECT 1 FROM identifiers i
				WHERE i.entity_id = ANY(mg.ids) AND i.normalized_value LIKE '%' || $1 || '%'
			)
		  )
		ORDER BY sim DESC, lower(e.display_name)
		LIMIT $3`

	var typeArg *string
	if typeFilter != nil {
		t := string(*typeFilter)
		typeArg = &t
	}

	rows, err := r.db.Pool.Query(ctx, sql, query, trigramThreshold, candidateLimit, typeArg, tokenPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to query search candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*SearchCandidate
	for rows.Next() {
		var (
			c     SearchCandidate
			pairs []string
		)
		if err := rows.Scan(
			&c.EntityID, &c.EntityType, &c.DisplayName, &c.Address, &c.FormattedAddress,
			&c.AccountType, &c.Similarity, &pairs, &c.IdentifierCount,
			&c.CatLinks, &c.PlaceLinks,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search candidate: %w", err)
		}
		for _, pair := range pairs {
			kind, value, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			c.Identifiers = append(c.Identifiers, IdentifierValue{
				Kind:  models.IdentifierKind(kind),
				Value: value,
			})
		}
		candidates = append(candidates, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search candidates: %w", err)
	}

	return candidates, nil
}

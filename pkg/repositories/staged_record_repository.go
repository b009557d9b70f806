package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/models"
)

// StagedSource describes one raw/staged table owned by an external connector.
// Column lists are ordered fallbacks: vendor exports rename fields between
// versions, so each logical field is a priority list of variants and only the
// ones that actually exist are consulted.
type StagedSource struct {
	Table          string
	IDColumns      []string
	SearchColumns  []string
	SnippetColumns []string
}

// StagedRecordRepository reads heterogeneous raw/staged tables defensively.
// Sources evolve independently of this core: a table or column that is gone
// in one environment is simply skipped, never an error.
type StagedRecordRepository interface {
	TableExists(ctx context.Context, table string) (bool, error)
	SearchTable(ctx context.Context, src StagedSource, query string, limit int) ([]models.RawSearchResult, error)
}

type stagedRecordRepository struct {
	db *database.DB
}

// NewStagedRecordRepository creates a new StagedRecordRepository.
func NewStagedRecordRepository(db *database.DB) StagedRecordRepository {
	return &stagedRecordRepository{db: db}
}

var _ StagedRecordRepository = (*stagedRecordRepository)(nil)

func (r *stagedRecordRepository) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT to_regclass($1) IS NOT NULL`, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

func (r *stagedRecordRepository) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	return columns, nil
}

func (r *stagedRecordRepository) SearchTable(ctx context.Context, src StagedSource, query string, limit int) ([]models.RawSearchResult, error) {
	existing, err := r.existingColumns(ctx, src.Table)
	if err != nil {
		return nil, err
	}

	var searchCols []string
	for _, col := range src.SearchColumns {
		if existing[col] {
			searchCols = append(searchCols, col)
		}
	}
	if len(searchCols) == 0 {
		return nil, nil
	}

	var snippetCols []string
	for _, col := range src.SnippetColumns {
		if existing[col] {
			snippetCols = append(snippetCols, col)
		}
	}

	// Row identity falls back through the variant list, then to the physical
	// row address as a last resort.
	idExpr := "ctid::text"
	for _, col := range src.IDColumns {
		if existing[col] {
			idExpr = pgx.Identifier{col}.Sanitize() + "::text"
			break
		}
	}

	selectCols := []string{idExpr}
	scanCols := append(append([]string{}, searchCols...), snippetCols...)
	seen := map[string]bool{}
	var uniqueScanCols []string
	for _, col := range scanCols {
		if seen[col] {
			continue
		}
		seen[col] = true
		uniqueScanCols = append(uniqueScanCols, col)
		selectCols = append(selectCols, pgx.Identifier{col}.Sanitize()+"::text")
	}

	var predicates []string
	for _, col := range searchCols {
		predicates = append(predicates, pgx.Identifier{col}.Sanitize()+"::text ILIKE $1")
	}

	// Table and column names come from the static source descriptors, never
	// from the caller; only the query string is parameterized.
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s LIMIT $2",
		strings.Join(selectCols, ", "),
		pgx.Identifier{src.Table}.Sanitize(),
		strings.Join(predicates, " OR "),
	)

	rows, err := r.db.Pool.Query(ctx, sql, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", src.Table, err)
	}
	defer rows.Close()

	lowerQuery := strings.ToLower(query)

	var results []models.RawSearchResult
	for rows.Next() {
		dest := make([]any, 1+len(uniqueScanCols))
		var rowID *string
		dest[0] = &rowID
		values := make([]*string, len(uniqueScanCols))
		for i := range values {
			dest[i+1] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", src.Table, err)
		}

		byColumn := make(map[string]string, len(uniqueScanCols))
		for i, col := range uniqueScanCols {
			if values[i] != nil {
				byColumn[col] = *values[i]
			}
		}

		matched := ""
		for _, col := range searchCols {
			if v, ok := byColumn[col]; ok && strings.Contains(strings.ToLower(v), lowerQuery) {
				matched = col
				break
			}
		}

		snippet := make(map[string]string)
		for _, col := range snippetCols {
			if v, ok := byColumn[col]; ok && v != "" {
				snippet[col] = v
			}
		}

		id := ""
		if rowID != nil {
			id = *rowID
		}

		results = append(results, models.RawSearchResult{
			SourceTable:  src.Table,
			RowID:        id,
			MatchedField: matched,
			Snippet:      snippet,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows from %s: %w", src.Table, err)
	}

	return results, nil
}

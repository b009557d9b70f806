package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shelterstack/identity-engine/pkg/logging"
	"github.com/shelterstack/identity-engine/pkg/metrics"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// maxSnippetLen caps each snippet value returned from a staged table.
const maxSnippetLen = 160

// defaultStagedSources describes the raw tables the connectors stage into.
// Column lists are ordered fallbacks because vendor exports rename fields
// between versions.
var defaultStagedSources = []repositories.StagedSource{
	{
		Table:          "raw_shelter_people",
		IDColumns:      []string{"id", "record_id", "person_id"},
		SearchColumns:  []string{"name", "full_name", "client_name", "email", "email_address", "phone", "phone_number", "primary_phone"},
		SnippetColumns: []string{"name", "full_name", "client_name", "email", "email_address", "phone", "phone_number", "address", "street_address", "city"},
	},
	{
		Table:          "raw_clinic_patients",
		IDColumns:      []string{"id", "patient_id", "record_id"},
		SearchColumns:  []string{"patient_name", "animal_name", "owner_name", "owner_email", "microchip", "microchip_number", "clinic_id"},
		SnippetColumns: []string{"patient_name", "animal_name", "owner_name", "owner_email", "owner_phone", "microchip", "microchip_number", "species", "breed"},
	},
	{
		Table:          "raw_intake_submissions",
		IDColumns:      []string{"id", "submission_id"},
		SearchColumns:  []string{"submitter_name", "name", "contact_email", "email", "contact_phone", "phone", "location", "address"},
		SnippetColumns: []string{"submitter_name", "name", "contact_email", "email", "contact_phone", "phone", "location", "address", "notes"},
	},
}

// RawSearchService searches heterogeneous raw/staged tables beneath the
// canonical layer. It is a debugging and reconciliation view: results carry
// the originating table and row, and no entity resolution is attempted.
// Availability beats completeness; a source that errors is dropped, never
// fatal.
type RawSearchService interface {
	SearchRaw(ctx context.Context, query string, limit int) ([]models.RawSearchResult, error)
}

type rawSearchService struct {
	repo    repositories.StagedRecordRepository
	sources []repositories.StagedSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRawSearchService creates a RawSearchService over the default staged
// sources.
func NewRawSearchService(repo repositories.StagedRecordRepository, m *metrics.Metrics, logger *zap.Logger) RawSearchService {
	return &rawSearchService{
		repo:    repo,
		sources: defaultStagedSources,
		metrics: m,
		logger:  logger,
	}
}

var _ RawSearchService = (*rawSearchService)(nil)

func (s *rawSearchService) SearchRaw(ctx context.Context, query string, limit int) ([]models.RawSearchResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRawSearchLatency(time.Since(start)) }()

	q := strings.TrimSpace(query)
	if q == "" {
		return []models.RawSearchResult{}, nil
	}
	if limit <= 0 {
		limit = 25
	}

	var (
		mu      sync.Mutex
		results []models.RawSearchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range s.sources {
		g.Go(func() error {
			rows := s.searchSource(gctx, source, q, limit)
			if len(rows) == 0 {
				return nil
			}
			mu.Lock()
			results = append(results, rows...)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; per-source failures are logged and the
	// source is omitted so one broken export cannot take search down.
	_ = g.Wait()

	if results == nil {
		results = []models.RawSearchResult{}
	}
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (s *rawSearchService) searchSource(ctx context.Context, source repositories.StagedSource, query string, limit int) []models.RawSearchResult {
	exists, err := s.repo.TableExists(ctx, source.Table)
	if err != nil {
		s.logger.Warn("Failed to probe staged table, skipping",
			zap.String("table", source.Table),
			zap.Error(err))
		return nil
	}
	if !exists {
		// Schema drift between environments is expected steady state.
		return nil
	}

	rows, err := s.repo.SearchTable(ctx, source, query, limit)
	if err != nil {
		s.logger.Warn("Staged table search failed, skipping",
			zap.String("table", source.Table),
			zap.Error(err))
		return nil
	}

	// Staged exports carry free-text columns of unbounded size; cap the
	// snippet values so one pasted note cannot bloat a response.
	for _, row := range rows {
		for col, v := range row.Snippet {
			row.Snippet[col] = logging.TruncateString(v, maxSnippetLen)
		}
	}

	return rows
}

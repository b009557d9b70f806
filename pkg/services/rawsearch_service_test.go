package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// mockStagedRepo implements repositories.StagedRecordRepository with
// per-table data and failure injection.
type mockStagedRepo struct {
	mu        sync.Mutex
	rows      map[string][]models.RawSearchResult
	missing   map[string]bool
	probeErr  map[string]error
	searchErr map[string]error
}

func (m *mockStagedRepo) TableExists(_ context.Context, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.probeErr[table]; err != nil {
		return false, err
	}
	return !m.missing[table], nil
}

func (m *mockStagedRepo) SearchTable(_ context.Context, src repositories.StagedSource, _ string, limit int) ([]models.RawSearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.searchErr[src.Table]; err != nil {
		return nil, err
	}
	rows := m.rows[src.Table]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func rawRow(table, id string) models.RawSearchResult {
	return models.RawSearchResult{
		SourceTable:  table,
		RowID:        id,
		MatchedField: "name",
		Snippet:      map[string]string{"name": "Maria Santos"},
	}
}

func newTestRawSearchService(repo *mockStagedRepo) RawSearchService {
	return NewRawSearchService(repo, nil, zap.NewNop())
}

func TestSearchRaw_EmptyQueryReturnsEmpty(t *testing.T) {
	svc := newTestRawSearchService(&mockStagedRepo{})

	results, err := svc.SearchRaw(context.Background(), "  ", 25)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRaw_CombinesSources(t *testing.T) {
	repo := &mockStagedRepo{
		rows: map[string][]models.RawSearchResult{
			"raw_shelter_people":  {rawRow("raw_shelter_people", "101")},
			"raw_clinic_patients": {rawRow("raw_clinic_patients", "p-7")},
		},
	}
	svc := newTestRawSearchService(repo)

	results, err := svc.SearchRaw(context.Background(), "maria", 25)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	tables := map[string]bool{}
	for _, r := range results {
		tables[r.SourceTable] = true
	}
	assert.True(t, tables["raw_shelter_people"])
	assert.True(t, tables["raw_clinic_patients"])
}

func TestSearchRaw_MissingTableIsSkipped(t *testing.T) {
	repo := &mockStagedRepo{
		rows: map[string][]models.RawSearchResult{
			"raw_shelter_people": {rawRow("raw_shelter_people", "101")},
		},
		missing: map[string]bool{
			"raw_clinic_patients":    true,
			"raw_intake_submissions": true,
		},
	}
	svc := newTestRawSearchService(repo)

	results, err := svc.SearchRaw(context.Background(), "maria", 25)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "raw_shelter_people", results[0].SourceTable)
}

func TestSearchRaw_FailingSourceDoesNotKillOthers(t *testing.T) {
	repo := &mockStagedRepo{
		rows: map[string][]models.RawSearchResult{
			"raw_shelter_people":     {rawRow("raw_shelter_people", "101")},
			"raw_intake_submissions": {rawRow("raw_intake_submissions", "s-3")},
		},
		probeErr: map[string]error{
			"raw_clinic_patients": fmt.Errorf("permission denied"),
		},
		searchErr: map[string]error{
			"raw_intake_submissions": fmt.Errorf("column vanished"),
		},
	}
	svc := newTestRawSearchService(repo)

	results, err := svc.SearchRaw(context.Background(), "maria", 25)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "raw_shelter_people", results[0].SourceTable)
}

func TestSearchRaw_CapsAtLimit(t *testing.T) {
	repo := &mockStagedRepo{
		rows: map[string][]models.RawSearchResult{
			"raw_shelter_people":  {rawRow("raw_shelter_people", "1"), rawRow("raw_shelter_people", "2")},
			"raw_clinic_patients": {rawRow("raw_clinic_patients", "3"), rawRow("raw_clinic_patients", "4")},
		},
	}
	svc := newTestRawSearchService(repo)

	results, err := svc.SearchRaw(context.Background(), "maria", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchRaw_TruncatesLongSnippetValues(t *testing.T) {
	longNote := strings.Repeat("cat found near the creek. ", 20)
	repo := &mockStagedRepo{
		rows: map[string][]models.RawSearchResult{
			"raw_intake_submissions": {{
				SourceTable:  "raw_intake_submissions",
				RowID:        "s-1",
				MatchedField: "submitter_name",
				Snippet:      map[string]string{"submitter_name": "Maria Santos", "notes": longNote},
			}},
		},
	}
	svc := newTestRawSearchService(repo)

	results, err := svc.SearchRaw(context.Background(), "maria", 25)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Maria Santos", results[0].Snippet["submitter_name"])
	notes := results[0].Snippet["notes"]
	assert.Len(t, notes, maxSnippetLen+len("..."))
	assert.True(t, strings.HasSuffix(notes, "..."))
}

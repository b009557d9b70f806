package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// mockSearchRepo implements repositories.SearchRepository, returning a fixed
// candidate set. Similarity values are controlled per candidate, standing in
// for pg_trgm.
type mockSearchRepo struct {
	candidates []*repositories.SearchCandidate
	err        error
}

func (m *mockSearchRepo) FindCandidates(_ context.Context, _ string, _ []string, typeFilter *models.EntityType, _ float64) ([]*repositories.SearchCandidate, error) {
	if m.err != nil {
		return nil, m.err
	}
	if typeFilter == nil {
		return m.candidates, nil
	}
	var filtered []*repositories.SearchCandidate
	for _, c := range m.candidates {
		if c.EntityType == *typeFilter {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func newTestSearchService(repo *mockSearchRepo) SearchService {
	return NewSearchService(repo, models.DefaultRankingPolicy(), nil, zap.NewNop())
}

func strPtr(s string) *string { return &s }

// linkedPerson returns a person candidate with enough evidence to avoid the
// shell penalties.
func linkedPerson(name string) *repositories.SearchCandidate {
	return &repositories.SearchCandidate{
		EntityID:        uuid.New(),
		EntityType:      models.EntityTypePerson,
		DisplayName:     name,
		IdentifierCount: 1,
		CatLinks:        1,
	}
}

func TestSearch_EmptyQueryReturnsEmpty(t *testing.T) {
	svc := newTestSearchService(&mockSearchRepo{})

	results, total, err := svc.Search(context.Background(), "   ", nil, 25, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
}

func TestSearch_RepoErrorPropagates(t *testing.T) {
	svc := newTestSearchService(&mockSearchRepo{err: fmt.Errorf("statement timeout")})

	_, _, err := svc.Search(context.Background(), "fluffy", nil, 25, 0)
	assert.Error(t, err)
}

func TestSearch_ScoreCascade(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		candidate *repositories.SearchCandidate
		wantScore int
	}{
		{
			name:      "exact name",
			query:     "fluffy",
			candidate: linkedPerson("Fluffy"),
			wantScore: 100,
		},
		{
			name:  "exact address",
			query: "12 oak lane",
			candidate: &repositories.SearchCandidate{
				EntityType: models.EntityTypePlace, DisplayName: "Oak Lane House",
				Address: strPtr("12 Oak Lane"),
			},
			wantScore: 100,
		},
		{
			name:  "exact formatted address",
			query: "12 oak ln, petaluma, ca",
			candidate: &repositories.SearchCandidate{
				EntityType: models.EntityTypePlace, DisplayName: "Oak Lane House",
				FormattedAddress: strPtr("12 Oak Ln, Petaluma, CA"),
			},
			wantScore: 99,
		},
		{
			name:      "name prefix",
			query:     "fluffy",
			candidate: linkedPerson("Fluffy Jr"),
			wantScore: 95,
		},
		{
			name:  "exact microchip",
			query: "985112004567890",
			candidate: &repositories.SearchCandidate{
				EntityType: models.EntityTypeCat, DisplayName: "Shadow",
				Identifiers: []repositories.IdentifierValue{
					{Kind: models.IdentifierKindMicrochip, Value: "985112004567890"},
				},
			},
			wantScore: 98,
		},
		{
			name:  "microchip prefix",
			query: "985112",
			candidate: &repositories.SearchCandidate{
				EntityType: models.EntityTypeCat, DisplayName: "Shadow",
				Identifiers: []repositories.IdentifierValue{
					{Kind: models.IdentifierKindMicrochip, Value: "985112004567890"},
				},
			},
			wantScore: 90,
		},
		{
			name:      "all tokens present",
			query:     "santos maria",
			candidate: linkedPerson("Maria Santos"),
			wantScore: 75,
		},
		{
			name:  "trigram band floor",
			query: "fluf",
			candidate: func() *repositories.SearchCandidate {
				c := linkedPerson("Mister Fluffy")
				c.Similarity = 0.5
				return c
			}(),
			wantScore: 60,
		},
		{
			name:  "trigram band scales",
			query: "fluff",
			candidate: func() *repositories.SearchCandidate {
				c := linkedPerson("Cat Fluffy")
				c.Similarity = 0.75
				return c
			}(),
			wantScore: 75,
		},
		{
			name:      "single token substring of name",
			query:     "broyles",
			candidate: linkedPerson("William Broyles"),
			wantScore: 40,
		},
		{
			name:  "substring of address",
			query: "oak",
			candidate: func() *repositories.SearchCandidate {
				c := linkedPerson("Maria Santos")
				c.Address = strPtr("12 Oak Lane")
				return c
			}(),
			wantScore: 30,
		},
		{
			name:  "no rule matches",
			query: "zzz",
			candidate: func() *repositories.SearchCandidate {
				c := linkedPerson("Maria Santos")
				c.Similarity = 0.1
				return c
			}(),
			wantScore: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestSearchService(&mockSearchRepo{candidates: []*repositories.SearchCandidate{tt.candidate}})

			results, total, err := svc.Search(context.Background(), tt.query, nil, 25, 0)
			require.NoError(t, err)

			if tt.wantScore == 0 {
				assert.Empty(t, results)
				assert.Zero(t, total)
				return
			}
			require.Len(t, results, 1)
			assert.Equal(t, tt.wantScore, results[0].Score)
		})
	}
}

func TestSearch_ShellPenalties(t *testing.T) {
	shell := &repositories.SearchCandidate{
		EntityID:   uuid.New(),
		EntityType: models.EntityTypePerson,
		// prefix match: base 95
		DisplayName: "William Broyles",
	}
	svc := newTestSearchService(&mockSearchRepo{candidates: []*repositories.SearchCandidate{shell}})

	results, _, err := svc.Search(context.Background(), "william", nil, 25, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// 95 - 30 (no links) - 10 (no identifiers) = 55
	assert.Equal(t, 55, results[0].Score)
	assert.Equal(t, models.MatchStrengthMedium, results[0].MatchStrength)
}

func TestSearch_ExactMatchIsNeverPenalized(t *testing.T) {
	shell := &repositories.SearchCandidate{
		EntityID:    uuid.New(),
		EntityType:  models.EntityTypePerson,
		DisplayName: "William Broyles",
	}
	svc := newTestSearchService(&mockSearchRepo{candidates: []*repositories.SearchCandidate{shell}})

	results, _, err := svc.Search(context.Background(), "william broyles", nil, 25, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 100, results[0].Score)
	assert.Equal(t, models.MatchStrengthStrong, results[0].MatchStrength)
}

func TestSearch_PenaltyFloorsAtMinScore(t *testing.T) {
	shell := &repositories.SearchCandidate{
		EntityID:    uuid.New(),
		EntityType:  models.EntityTypePerson,
		DisplayName: "A William Broyles Duplicate",
	}
	svc := newTestSearchService(&mockSearchRepo{candidates: []*repositories.SearchCandidate{shell}})

	// Substring base 40, penalties 40: floored at 1, still visible.
	results, _, err := svc.Search(context.Background(), "broyles", nil, 25, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Score)
	assert.Equal(t, models.MatchStrengthWeak, results[0].MatchStrength)
}

func TestSearch_NonPersonsAreNotPenalized(t *testing.T) {
	cat := &repositories.SearchCandidate{
		EntityID:    uuid.New(),
		EntityType:  models.EntityTypeCat,
		DisplayName: "Fluffy Jr",
	}
	svc := newTestSearchService(&mockSearchRepo{candidates: []*repositories.SearchCandidate{cat}})

	results, _, err := svc.Search(context.Background(), "fluffy", nil, 25, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 95, results[0].Score)
}

func TestSearch_RankingOrder(t *testing.T) {
	exact := linkedPerson("Fluffy")
	prefix := linkedPerson("Fluffy Jr")
	fuzzy := linkedPerson("Fluffernutter")
	fuzzy.Similarity = 0.55

	svc := newTestSearchService(&mockSearchRepo{
		candidates: []*repositories.SearchCandidate{fuzzy, prefix, exact},
	})

	results, total, err := svc.Search(context.Background(), "fluffy", nil, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, results, 3)
	assert.Equal(t, "Fluffy", results[0].DisplayName)
	assert.Equal(t, "Fluffy Jr", results[1].DisplayName)
	assert.Equal(t, "Fluffernutter", results[2].DisplayName)
}

func TestSearch_TiesBreakAlphabetically(t *testing.T) {
	b := linkedPerson("Beta Fluffy")
	a := linkedPerson("Alpha Fluffy")

	svc := newTestSearchService(&mockSearchRepo{
		candidates: []*repositories.SearchCandidate{b, a},
	})

	results, _, err := svc.Search(context.Background(), "fluffy", nil, 25, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Alpha Fluffy", results[0].DisplayName)
	assert.Equal(t, "Beta Fluffy", results[1].DisplayName)
}

func TestSearch_Paging(t *testing.T) {
	var candidates []*repositories.SearchCandidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, linkedPerson(fmt.Sprintf("Fluffy %c", 'A'+i)))
	}
	svc := newTestSearchService(&mockSearchRepo{candidates: candidates})
	ctx := context.Background()

	results, total, err := svc.Search(ctx, "fluffy", nil, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, results, 2)

	results, total, err = svc.Search(ctx, "fluffy", nil, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, results, 1)

	results, total, err = svc.Search(ctx, "fluffy", nil, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, results)
}

func TestSearch_TypeFilter(t *testing.T) {
	person := linkedPerson("Fluffy Santos")
	cat := &repositories.SearchCandidate{
		EntityID: uuid.New(), EntityType: models.EntityTypeCat, DisplayName: "Fluffy",
	}
	svc := newTestSearchService(&mockSearchRepo{
		candidates: []*repositories.SearchCandidate{person, cat},
	})

	catType := models.EntityTypeCat
	results, total, err := svc.Search(context.Background(), "fluffy", &catType, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, models.EntityTypeCat, results[0].EntityType)
}

func TestSearch_ResultMetadata(t *testing.T) {
	org := models.AccountTypeOrganization
	candidate := &repositories.SearchCandidate{
		EntityID:         uuid.New(),
		EntityType:       models.EntityTypePerson,
		DisplayName:      "Whisker Rescue",
		FormattedAddress: strPtr("455 5th St, Santa Rosa, CA"),
		AccountType:      &org,
		IdentifierCount:  1,
		CatLinks:         2,
	}
	svc := newTestSearchService(&mockSearchRepo{candidates: []*repositories.SearchCandidate{candidate}})

	results, _, err := svc.Search(context.Background(), "whisker rescue", nil, 25, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "455 5th St, Santa Rosa, CA", results[0].Subtitle)
	assert.Equal(t, "organization", results[0].Metadata["account_type"])
}

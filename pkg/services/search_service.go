package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/metrics"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// SearchService ranks canonical entities against a free-text query with a
// tiered rule cascade. All scoring constants live in the RankingPolicy so
// behavior is tunable without code changes.
type SearchService interface {
	// Search returns ranked results plus the total number of matches before
	// paging. An empty or whitespace-only query yields an empty result set,
	// never an error.
	Search(ctx context.Context, query string, typeFilter *models.EntityType, limit, offset int) ([]models.SearchResult, int, error)
}

type searchService struct {
	repo    repositories.SearchRepository
	policy  models.RankingPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSearchService creates a SearchService with the given ranking policy.
func NewSearchService(repo repositories.SearchRepository, policy models.RankingPolicy, m *metrics.Metrics, logger *zap.Logger) SearchService {
	return &searchService{
		repo:    repo,
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

var _ SearchService = (*searchService)(nil)

func (s *searchService) Search(ctx context.Context, query string, typeFilter *models.EntityType, limit, offset int) ([]models.SearchResult, int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSearchLatency(time.Since(start)) }()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []models.SearchResult{}, 0, nil
	}
	if limit <= 0 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	tokens := queryTokens(q, s.policy.MinTokenLength)

	candidates, err := s.repo.FindCandidates(ctx, q, tokens, typeFilter, s.policy.TrigramThreshold)
	if err != nil {
		return nil, 0, fmt.Errorf("candidate fetch failed: %w", err)
	}

	var results []models.SearchResult
	for _, candidate := range candidates {
		base, reason := s.baseScore(q, tokens, candidate)
		if base == 0 {
			continue
		}

		final := s.applyPenalty(base, candidate)
		results = append(results, s.buildResult(candidate, final, reason))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return strings.ToLower(results[i].DisplayName) < strings.ToLower(results[j].DisplayName)
	})

	total := len(results)
	if offset >= total {
		return []models.SearchResult{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return results[offset:end], total, nil
}

func queryTokens(q string, minLength int) []string {
	var tokens []string
	for _, tok := range strings.Fields(q) {
		if len(tok) >= minLength {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// baseScore runs the rule cascade; the first matching rule wins. A zero
// score means no rule matched and the candidate is excluded.
func (s *searchService) baseScore(q string, tokens []string, c *repositories.SearchCandidate) (int, string) {
	p := s.policy
	name := strings.ToLower(c.DisplayName)
	address := lowerOrEmpty(c.Address)
	formatted := lowerOrEmpty(c.FormattedAddress)

	// Tier 1: exact match on primary name or address.
	if q == name {
		return p.ExactScore, "exact name match"
	}
	if address != "" && q == address {
		return p.ExactScore, "exact address match"
	}

	// Tier 2: exact secondary field, or primary name prefix.
	if formatted != "" && q == formatted {
		return p.SecondaryScore, "exact formatted address match"
	}
	if strings.HasPrefix(name, q) {
		return p.NamePrefixScore, "name starts with query"
	}

	// Tier 3: strong external identifiers.
	for _, ident := range c.Identifiers {
		if ident.Kind != models.IdentifierKindMicrochip && ident.Kind != models.IdentifierKindClinicID {
			continue
		}
		value := strings.ToLower(ident.Value)
		if value == q {
			return p.IdentifierScore, fmt.Sprintf("exact %s match", identifierLabel(ident.Kind))
		}
		if strings.HasPrefix(value, q) {
			return p.IdentifierPrefix, fmt.Sprintf("%s starts with query", identifierLabel(ident.Kind))
		}
	}

	// Tier 4: every query token appears somewhere in the searchable text.
	// Single-token queries skip this tier; one token alone is ordinary
	// substring evidence and is handled by the fallback below.
	if len(tokens) >= 2 {
		searchable := searchableText(c)
		all := true
		for _, tok := range tokens {
			if !strings.Contains(searchable, tok) {
				all = false
				break
			}
		}
		if all {
			return p.AllTokensScore, "all query terms present"
		}
	}

	// Tier 5: trigram similarity, scaled linearly into its band.
	if c.Similarity >= p.TrigramThreshold {
		span := float64(p.TrigramCeiling - p.TrigramFloor)
		scaled := (c.Similarity - p.TrigramThreshold) / (1 - p.TrigramThreshold)
		return p.TrigramFloor + int(scaled*span), "similar name"
	}

	// Tier 6: plain substring fallback.
	if strings.Contains(name, q) {
		return p.SubstringNameScore, "name contains query"
	}
	if address != "" && strings.Contains(address, q) {
		return p.SubstringScore, "address contains query"
	}
	if formatted != "" && strings.Contains(formatted, q) {
		return p.SubstringScore, "address contains query"
	}
	for _, ident := range c.Identifiers {
		if strings.Contains(strings.ToLower(ident.Value), q) {
			return p.SubstringScore, fmt.Sprintf("%s contains query", identifierLabel(ident.Kind))
		}
	}

	return 0, ""
}

// applyPenalty demotes low-evidence person records on non-exact matches. A
// penalized record is floored at the minimum score, never hidden outright.
func (s *searchService) applyPenalty(base int, c *repositories.SearchCandidate) int {
	p := s.policy
	if c.EntityType != models.EntityTypePerson || base == p.ExactScore {
		return base
	}

	score := base
	if c.CatLinks == 0 && c.PlaceLinks == 0 {
		score -= p.ShellPenalty
	}
	if c.IdentifierCount == 0 {
		score -= p.NoIdentifierPenalty
	}
	if score < p.MinScore {
		score = p.MinScore
	}
	return score
}

func (s *searchService) buildResult(c *repositories.SearchCandidate, score int, reason string) models.SearchResult {
	result := models.SearchResult{
		EntityType:    c.EntityType,
		EntityID:      c.EntityID,
		DisplayName:   c.DisplayName,
		Score:         score,
		MatchStrength: s.policy.StrengthFor(score),
		MatchReason:   reason,
	}

	switch {
	case c.FormattedAddress != nil && *c.FormattedAddress != "":
		result.Subtitle = *c.FormattedAddress
	case c.Address != nil && *c.Address != "":
		result.Subtitle = *c.Address
	}

	if c.AccountType != nil && *c.AccountType != models.AccountTypePerson {
		result.Metadata = map[string]string{"account_type": string(*c.AccountType)}
	}

	return result
}

func searchableText(c *repositories.SearchCandidate) string {
	parts := []string{strings.ToLower(c.DisplayName)}
	if c.Address != nil {
		parts = append(parts, strings.ToLower(*c.Address))
	}
	if c.FormattedAddress != nil {
		parts = append(parts, strings.ToLower(*c.FormattedAddress))
	}
	for _, ident := range c.Identifiers {
		parts = append(parts, strings.ToLower(ident.Value))
	}
	return strings.Join(parts, " ")
}

func lowerOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(*s)
}

func identifierLabel(kind models.IdentifierKind) string {
	switch kind {
	case models.IdentifierKindMicrochip:
		return "microchip"
	case models.IdentifierKindClinicID:
		return "clinic id"
	case models.IdentifierKindEmail:
		return "email"
	case models.IdentifierKindPhone, models.IdentifierKindSecondaryPhone:
		return "phone"
	default:
		return "identifier"
	}
}

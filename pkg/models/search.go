package models

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// MatchStrength is the coarse bucket derived from a numeric relevance score.
type MatchStrength string

const (
	MatchStrengthStrong MatchStrength = "strong"
	MatchStrengthMedium MatchStrength = "medium"
	MatchStrengthWeak   MatchStrength = "weak"
)

// SearchResult is one ranked hit for a canonical search query. It is
// transient, produced per query and never persisted.
type SearchResult struct {
	EntityType    EntityType        `json:"entity_type"`
	EntityID      uuid.UUID         `json:"entity_id"`
	DisplayName   string            `json:"display_name"`
	Subtitle      string            `json:"subtitle,omitempty"`
	Score         int               `json:"score"`
	MatchStrength MatchStrength     `json:"match_strength"`
	MatchReason   string            `json:"match_reason"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RawSearchResult is one hit from the deep search over raw/staged tables. It
// carries enough provenance for human triage and deliberately performs no
// entity resolution.
type RawSearchResult struct {
	SourceTable  string            `json:"source_table"`
	RowID        string            `json:"row_id"`
	MatchedField string            `json:"matched_field"`
	Snippet      map[string]string `json:"snippet"`
}

// RankingPolicy holds every tunable constant of the relevance scorer. Scoring
// behavior is adjusted by shipping a new policy, not by editing code.
type RankingPolicy struct {
	Version int `yaml:"version"`

	// Base scores for the rule cascade, highest rule first.
	ExactScore         int `yaml:"exact_score"`           // exact name or address match
	SecondaryScore     int `yaml:"secondary_score"`       // exact secondary field match
	NamePrefixScore    int `yaml:"name_prefix_score"`     // prefix match on primary name
	IdentifierScore    int `yaml:"identifier_score"`      // exact strong-identifier match
	IdentifierPrefix   int `yaml:"identifier_prefix"`     // prefix match on strong identifier
	AllTokensScore     int `yaml:"all_tokens_score"`      // every query token present
	TrigramFloor       int `yaml:"trigram_floor"`         // similarity band lower bound
	TrigramCeiling     int `yaml:"trigram_ceiling"`       // similarity band upper bound
	SubstringNameScore int `yaml:"substring_name_score"`  // contains fallback on name
	SubstringScore     int `yaml:"substring_score"`       // contains fallback elsewhere
	MinTokenLength     int `yaml:"min_token_length"`      // tokens shorter than this are ignored
	TrigramThreshold   float64 `yaml:"trigram_threshold"` // minimum similarity for the trigram band

	// Shell-record penalties, applied to persons on non-exact matches only.
	ShellPenalty        int `yaml:"shell_penalty"`         // no linked cats and no linked places
	NoIdentifierPenalty int `yaml:"no_identifier_penalty"` // additionally, no identifiers at all
	MinScore            int `yaml:"min_score"`             // penalized records are demoted, never hidden

	// Match strength cutoffs on the final (penalized) score.
	StrongCutoff int `yaml:"strong_cutoff"`
	MediumCutoff int `yaml:"medium_cutoff"`
}

// DefaultRankingPolicy returns the production scoring constants.
func DefaultRankingPolicy() RankingPolicy {
	return RankingPolicy{
		Version:             1,
		ExactScore:          100,
		SecondaryScore:      99,
		NamePrefixScore:     95,
		IdentifierScore:     98,
		IdentifierPrefix:    90,
		AllTokensScore:      75,
		TrigramFloor:        60,
		TrigramCeiling:      90,
		SubstringNameScore:  40,
		SubstringScore:      30,
		MinTokenLength:      2,
		TrigramThreshold:    0.5,
		ShellPenalty:        30,
		NoIdentifierPenalty: 10,
		MinScore:            1,
		StrongCutoff:        90,
		MediumCutoff:        50,
	}
}

// LoadRankingPolicy reads a policy file, starting from the defaults so a
// partial file only overrides the constants it names.
func LoadRankingPolicy(path string) (RankingPolicy, error) {
	policy := DefaultRankingPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return RankingPolicy{}, fmt.Errorf("failed to read ranking policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return RankingPolicy{}, fmt.Errorf("failed to parse ranking policy: %w", err)
	}

	return policy, nil
}

// StrengthFor buckets a final score into a match strength.
func (p RankingPolicy) StrengthFor(score int) MatchStrength {
	switch {
	case score >= p.StrongCutoff:
		return MatchStrengthStrong
	case score >= p.MediumCutoff:
		return MatchStrengthMedium
	default:
		return MatchStrengthWeak
	}
}

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// AccountClassifier heuristically labels person records that are really
// programs, organizations, or places. Sync sources deliver all of these as
// "people"; tagging them keeps automated matching and search from treating a
// school or an apartment complex like an adopter.
type AccountClassifier interface {
	// Classify runs the rule cascade over a display name. Rules are ordered
	// specific-first and short-circuit on the first match.
	Classify(displayName string) models.AccountTypeClassification
	// Reclassify recomputes and persists the classification for an entity.
	// A stored higher-confidence classification is never downgraded.
	Reclassify(ctx context.Context, entity *models.Entity) (models.AccountTypeClassification, bool, error)
}

// classifierRule is one entry of the cascade: a predicate over the prepared
// name plus the label it emits. Keeping the cascade as data makes reordering
// and adding rules trivial.
type classifierRule struct {
	matches     func(n classifiedName) bool
	accountType models.AccountType
	confidence  float64
	reason      string
}

// classifiedName is the display name prepared once for all rules.
type classifiedName struct {
	raw      string
	lower    string
	tokens   []string // lower-cased tokens
	singular []string // lower-cased, singularized tokens
}

func prepareName(displayName string) classifiedName {
	lower := strings.ToLower(strings.TrimSpace(displayName))
	tokens := strings.Fields(lower)
	singular := make([]string, len(tokens))
	for i, tok := range tokens {
		singular[i] = inflection.Singular(tok)
	}
	return classifiedName{
		raw:      strings.TrimSpace(displayName),
		lower:    lower,
		tokens:   tokens,
		singular: singular,
	}
}

// hasToken reports whether any singularized token equals the noun.
func (n classifiedName) hasToken(noun string) bool {
	for _, tok := range n.singular {
		if tok == noun {
			return true
		}
	}
	return false
}

// hasPhrase reports whether the lower-cased name contains the phrase.
func (n classifiedName) hasPhrase(phrase string) bool {
	return strings.Contains(n.lower, phrase)
}

// isSelfRepeated reports whether the whole name is an exact repetition of its
// first half, e.g. "Casini Ranch Casini Ranch". Sync exports produce these for
// business accounts whose first and last name fields both hold the business
// name.
func (n classifiedName) isSelfRepeated() bool {
	count := len(n.tokens)
	if count < 2 || count%2 != 0 {
		return false
	}
	half := count / 2
	return strings.Join(n.tokens[:half], " ") == strings.Join(n.tokens[half:], " ")
}

var (
	programPhrases = []string{
		"working cats program", "barn cat program", "community cats program",
		"return to field", "tnr program",
	}
	institutionNouns = []string{
		"school", "university", "college", "academy", "preschool", "kindergarten",
	}
	animalOrgNouns = []string{
		"rescue", "shelter", "sanctuary", "spca", "humane",
	}
	governmentNouns = []string{
		"county", "municipal", "police", "sheriff", "department", "agency",
	}
	businessSuffixes = []string{
		"inc", "inc.", "llc", "llc.", "corp", "corp.", "ltd", "ltd.",
		"incorporated", "corporation", "company", "co.",
	}
	agriculturalNouns = []string{
		"ranch", "farm", "stable", "dairy", "orchard", "vineyard",
	}
)

// residentialNoun is a residential-complex noun. surnameLikely marks nouns
// that also occur as ordinary surnames ("Towers", "Manor"); for those, a
// short name with no other business signal is assumed to be a person.
type residentialNoun struct {
	noun          string
	surnameLikely bool
}

var residentialNouns = []residentialNoun{
	{noun: "apartment", surnameLikely: false},
	{noun: "condominium", surnameLikely: false},
	{noun: "complex", surnameLikely: false},
	{noun: "estate", surnameLikely: true},
	{noun: "manor", surnameLikely: true},
	{noun: "tower", surnameLikely: true},
	{noun: "villa", surnameLikely: true},
}

type accountClassifier struct {
	rules  []classifierRule
	repo   repositories.EntityRepository
	logger *zap.Logger
}

// NewAccountClassifier creates an AccountClassifier with the production rule
// cascade.
func NewAccountClassifier(repo repositories.EntityRepository, logger *zap.Logger) AccountClassifier {
	c := &accountClassifier{repo: repo, logger: logger}
	c.rules = []classifierRule{
		{
			matches: func(n classifiedName) bool {
				for _, phrase := range programPhrases {
					if n.hasPhrase(phrase) {
						return true
					}
				}
				return false
			},
			accountType: models.AccountTypeInternalProject,
			confidence:  0.95,
			reason:      "matches internal program name",
		},
		{
			matches: func(n classifiedName) bool {
				return strings.HasPrefix(n.lower, "duplicate report")
			},
			accountType: models.AccountTypeDuplicateMarker,
			confidence:  0.99,
			reason:      "duplicate report marker",
		},
		{
			matches:     anyTokenOf(institutionNouns),
			accountType: models.AccountTypeOrganization,
			confidence:  0.90,
			reason:      "contains educational institution noun",
		},
		{
			matches:     anyTokenOf(animalOrgNouns),
			accountType: models.AccountTypeOrganization,
			confidence:  0.90,
			reason:      "contains animal welfare organization noun",
		},
		{
			matches: func(n classifiedName) bool {
				if n.hasPhrase("city of ") {
					return true
				}
				return anyTokenOf(governmentNouns)(n)
			},
			accountType: models.AccountTypeOrganization,
			confidence:  0.85,
			reason:      "contains government or municipal noun",
		},
		{
			matches:     matchesResidentialComplex,
			accountType: models.AccountTypePlace,
			confidence:  0.80,
			reason:      "contains residential complex noun",
		},
		{
			matches: func(n classifiedName) bool {
				for _, suffix := range businessSuffixes {
					if len(n.tokens) > 0 && n.tokens[len(n.tokens)-1] == suffix {
						return true
					}
				}
				return false
			},
			accountType: models.AccountTypeOrganization,
			confidence:  0.85,
			reason:      "ends with business entity suffix",
		},
		{
			matches: func(n classifiedName) bool {
				return n.isSelfRepeated() && anyTokenOf(agriculturalNouns)(n)
			},
			accountType: models.AccountTypePlace,
			confidence:  0.80,
			reason:      "agricultural business with self-repeated name",
		},
		{
			matches: func(n classifiedName) bool {
				return n.isSelfRepeated()
			},
			accountType: models.AccountTypePlace,
			confidence:  0.75,
			reason:      "name is an exact self-repetition",
		},
	}
	return c
}

var _ AccountClassifier = (*accountClassifier)(nil)

func anyTokenOf(nouns []string) func(classifiedName) bool {
	return func(n classifiedName) bool {
		for _, noun := range nouns {
			if n.hasToken(noun) {
				return true
			}
		}
		return false
	}
}

// matchesResidentialComplex applies the residential noun list with the
// personal-name exemption: "Jane Towers" stays a person, while "Sunset Towers
// Apartments" still classifies as a place through the unambiguous noun.
func matchesResidentialComplex(n classifiedName) bool {
	for _, rn := range residentialNouns {
		if !n.hasToken(rn.noun) {
			continue
		}
		if rn.surnameLikely && looksLikePersonalName(n, rn.noun) {
			continue
		}
		return true
	}
	return false
}

// looksLikePersonalName reports whether the matched noun is plausibly a
// surname: a two-token name whose final token is the noun and whose other
// token carries no business signal.
func looksLikePersonalName(n classifiedName, noun string) bool {
	if len(n.tokens) != 2 {
		return false
	}
	if inflection.Singular(n.tokens[1]) != noun {
		return false
	}
	other := classifiedName{
		lower:    n.tokens[0],
		tokens:   n.tokens[:1],
		singular: n.singular[:1],
	}
	return !anyTokenOf(institutionNouns)(other) &&
		!anyTokenOf(animalOrgNouns)(other) &&
		!anyTokenOf(agriculturalNouns)(other)
}

func (c *accountClassifier) Classify(displayName string) models.AccountTypeClassification {
	name := prepareName(displayName)
	if name.lower == "" {
		return models.AccountTypeClassification{
			Type:       models.AccountTypePerson,
			Confidence: models.DefaultAccountTypeConfidence,
			Reason:     "empty name, assumed person",
		}
	}

	for _, rule := range c.rules {
		if rule.matches(name) {
			return models.AccountTypeClassification{
				Type:       rule.accountType,
				Confidence: rule.confidence,
				Reason:     rule.reason,
			}
		}
	}

	return models.AccountTypeClassification{
		Type:       models.AccountTypePerson,
		Confidence: models.DefaultAccountTypeConfidence,
		Reason:     "no organizational pattern matched",
	}
}

func (c *accountClassifier) Reclassify(ctx context.Context, entity *models.Entity) (models.AccountTypeClassification, bool, error) {
	fresh := c.Classify(entity.DisplayName)

	var stored *models.AccountTypeClassification
	if entity.AccountType != nil {
		stored = &models.AccountTypeClassification{Type: *entity.AccountType}
		if entity.AccountTypeConfidence != nil {
			stored.Confidence = *entity.AccountTypeConfidence
		}
		if entity.AccountTypeReason != nil {
			stored.Reason = *entity.AccountTypeReason
		}
	}

	if !fresh.ShouldReplace(stored) {
		return *stored, false, nil
	}

	if err := c.repo.UpdateAccountType(ctx, entity.ID, fresh); err != nil {
		return models.AccountTypeClassification{}, false, fmt.Errorf("failed to store classification: %w", err)
	}

	c.logger.Debug("Reclassified entity",
		zap.String("entity_id", entity.ID.String()),
		zap.String("account_type", string(fresh.Type)),
		zap.Float64("confidence", fresh.Confidence))

	return fresh, true, nil
}

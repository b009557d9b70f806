package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PatternType selects how a blocklist rule pattern is evaluated.
type PatternType string

const (
	PatternTypeExact        PatternType = "exact"
	PatternTypePrefix       PatternType = "prefix"
	PatternTypeSuffix       PatternType = "suffix"
	PatternTypeDomainSuffix PatternType = "domain_suffix"
	PatternTypeRegex        PatternType = "regex"
)

// IsValid returns true for a known pattern type.
func (p PatternType) IsValid() bool {
	switch p {
	case PatternTypeExact, PatternTypePrefix, PatternTypeSuffix,
		PatternTypeDomainSuffix, PatternTypeRegex:
		return true
	default:
		return false
	}
}

// BlocklistRule suppresses organization-wide or generic identifiers before
// they reach the registry. Rules are data, not code: new shared numbers or
// mailboxes can be blocked without a deployment. A nil Kind applies the rule
// to every identifier kind.
type BlocklistRule struct {
	ID          uuid.UUID
	Kind        *IdentifierKind
	Pattern     string
	PatternType PatternType
	Reason      string
	CreatedAt   time.Time
}

// AppliesTo reports whether this rule is evaluated for the given kind.
func (r *BlocklistRule) AppliesTo(kind IdentifierKind) bool {
	return r.Kind == nil || r.Kind.MatchKind() == kind.MatchKind()
}

// Matches evaluates the rule pattern against a normalized identifier value.
// A regex pattern that fails to compile never matches; the guard logs the bad
// rule once when loading.
func (r *BlocklistRule) Matches(value string) bool {
	if value == "" {
		return false
	}
	switch r.PatternType {
	case PatternTypeExact:
		return strings.EqualFold(value, r.Pattern)
	case PatternTypePrefix:
		return strings.HasPrefix(value, r.Pattern)
	case PatternTypeSuffix:
		return strings.HasSuffix(value, r.Pattern)
	case PatternTypeDomainSuffix:
		at := strings.LastIndex(value, "@")
		if at < 0 {
			return false
		}
		domain := value[at+1:]
		return domain == r.Pattern || strings.HasSuffix(domain, "."+r.Pattern)
	case PatternTypeRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}

// Package services contains the business logic of identity-engine.
package services

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

const blocklistCacheKey = "rules"

// BlocklistGuard decides whether an identifier may enter the registry. Rules
// live in the database so new organization-wide numbers and mailboxes can be
// suppressed without a deployment; the guard caches the rule set briefly to
// keep ingestion from hammering the rules table.
type BlocklistGuard interface {
	// IsBlocklisted reports whether a normalized identifier matches any rule
	// for its kind. An empty value is always blocklisted.
	IsBlocklisted(ctx context.Context, kind models.IdentifierKind, normalized string) (bool, error)
	// LoadRulesFile bulk-upserts rules from an ops-managed YAML file.
	LoadRulesFile(ctx context.Context, path string) (int, error)
}

type blocklistGuard struct {
	repo   repositories.BlocklistRepository
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewBlocklistGuard creates a BlocklistGuard caching rules for the given TTL.
func NewBlocklistGuard(repo repositories.BlocklistRepository, cacheTTL time.Duration, logger *zap.Logger) BlocklistGuard {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &blocklistGuard{
		repo:   repo,
		cache:  gocache.New(cacheTTL, 2*cacheTTL),
		logger: logger,
	}
}

var _ BlocklistGuard = (*blocklistGuard)(nil)

func (g *blocklistGuard) IsBlocklisted(ctx context.Context, kind models.IdentifierKind, normalized string) (bool, error) {
	if normalized == "" {
		return true, nil
	}

	rules, err := g.rules(ctx)
	if err != nil {
		return false, err
	}

	for _, rule := range rules {
		if !rule.AppliesTo(kind) {
			continue
		}
		if rule.Matches(normalized) {
			return true, nil
		}
	}

	return false, nil
}

func (g *blocklistGuard) rules(ctx context.Context) ([]*models.BlocklistRule, error) {
	if cached, ok := g.cache.Get(blocklistCacheKey); ok {
		return cached.([]*models.BlocklistRule), nil
	}

	rules, err := g.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocklist rules: %w", err)
	}

	// A rule with a broken regex fails closed for that rule; warn once per
	// cache refresh rather than per identifier.
	for _, rule := range rules {
		if rule.PatternType != models.PatternTypeRegex {
			continue
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			g.logger.Warn("Blocklist rule has invalid regex, rule is inert",
				zap.String("rule_id", rule.ID.String()),
				zap.String("pattern", rule.Pattern))
		}
	}

	g.cache.SetDefault(blocklistCacheKey, rules)
	return rules, nil
}

// blocklistRulesFile is the shape of the ops-managed YAML rules file.
type blocklistRulesFile struct {
	Rules []struct {
		Kind        string `yaml:"kind"`
		Pattern     string `yaml:"pattern"`
		PatternType string `yaml:"pattern_type"`
		Reason      string `yaml:"reason"`
	} `yaml:"rules"`
}

func (g *blocklistGuard) LoadRulesFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read blocklist rules file: %w", err)
	}

	var file blocklistRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse blocklist rules file: %w", err)
	}

	loaded := 0
	for _, entry := range file.Rules {
		rule := &models.BlocklistRule{
			Pattern:     entry.Pattern,
			PatternType: models.PatternType(entry.PatternType),
			Reason:      entry.Reason,
		}
		if entry.Kind != "" {
			kind := models.IdentifierKind(entry.Kind)
			if !kind.IsValid() {
				g.logger.Warn("Skipping blocklist rule with unknown kind",
					zap.String("kind", entry.Kind),
					zap.String("pattern", entry.Pattern))
				continue
			}
			rule.Kind = &kind
		}
		if !rule.PatternType.IsValid() {
			g.logger.Warn("Skipping blocklist rule with unknown pattern type",
				zap.String("pattern_type", entry.PatternType),
				zap.String("pattern", entry.Pattern))
			continue
		}
		if err := g.repo.Upsert(ctx, rule); err != nil {
			return loaded, fmt.Errorf("failed to store blocklist rule %q: %w", entry.Pattern, err)
		}
		loaded++
	}

	g.cache.Delete(blocklistCacheKey)
	return loaded, nil
}

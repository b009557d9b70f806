package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrengthFor_Buckets(t *testing.T) {
	p := DefaultRankingPolicy()

	assert.Equal(t, MatchStrengthStrong, p.StrengthFor(100))
	assert.Equal(t, MatchStrengthStrong, p.StrengthFor(90))
	assert.Equal(t, MatchStrengthMedium, p.StrengthFor(89))
	assert.Equal(t, MatchStrengthMedium, p.StrengthFor(50))
	assert.Equal(t, MatchStrengthWeak, p.StrengthFor(49))
	assert.Equal(t, MatchStrengthWeak, p.StrengthFor(1))
}

func TestLoadRankingPolicy_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shell_penalty: 50\ntrigram_threshold: 0.4\n"), 0o644))

	p, err := LoadRankingPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 50, p.ShellPenalty)
	assert.Equal(t, 0.4, p.TrigramThreshold)
	// untouched constants keep their defaults
	assert.Equal(t, 100, p.ExactScore)
	assert.Equal(t, 75, p.AllTokensScore)
}

func TestLoadRankingPolicy_MissingFile(t *testing.T) {
	_, err := LoadRankingPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

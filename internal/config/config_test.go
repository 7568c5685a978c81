package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, DefaultConcurrency, cfg.Run.Concurrency)
	assert.Equal(t, DefaultRetryRounds, *cfg.Run.RetryRounds)
	assert.Equal(t, DefaultSettleDelayMs, cfg.Run.SettleDelayMs)
	assert.Equal(t, DefaultChannel, cfg.Service.Channel)
	assert.False(t, *cfg.Scoring.Enabled)
	assert.True(t, *cfg.Session.Enabled)
	assert.Contains(t, cfg.Scoring.Prompt, "$使用者問句$")
}

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, cfg.Run.Concurrency)
}

func TestLoad_MergesAndClamps(t *testing.T) {
	dir := t.TempDir()
	content := `
service:
  base_url: https://qa.example.com
  channel: default
run:
  concurrency: 200
  retry_rounds: 99
scoring:
  enabled: true
  retry: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".qbatch.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://qa.example.com", cfg.Service.BaseURL)
	assert.Equal(t, MaxConcurrency, cfg.Run.Concurrency)
	assert.Equal(t, MaxRetryRounds, *cfg.Run.RetryRounds)
	assert.Equal(t, MaxScoringRetry, *cfg.Scoring.Retry)
	assert.True(t, *cfg.Scoring.Enabled)
	assert.Equal(t, DefaultChannel, cfg.Service.Channel, `"default" maps to the web channel`)
	assert.Equal(t, DefaultSettleDelayMs, cfg.Run.SettleDelayMs, "unset fields keep defaults")
}

func TestLoad_ExplicitZeroRetrySurvives(t *testing.T) {
	dir := t.TempDir()
	content := `
run:
  retry_rounds: 0
scoring:
  retry: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".qbatch.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, *cfg.Run.RetryRounds, "retry_rounds: 0 means no retry waves")
	assert.Equal(t, 0, *cfg.Scoring.Retry, "scoring retry: 0 means a single judge attempt")
}

func TestLoad_WalksUpToParent(t *testing.T) {
	parent := t.TempDir()
	child := filepath.Join(parent, "a", "b")
	require.NoError(t, os.MkdirAll(child, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, ".qbatch.yaml"), []byte("run:\n  concurrency: 9\n"), 0644))

	cfg, err := Load(child)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Run.Concurrency)
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".qbatch.yaml"), []byte("run: [broken"), 0644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestNormalize_NegativeValues(t *testing.T) {
	cfg := New()
	cfg.Run.Concurrency = -3
	cfg.Run.RetryRounds = intPtr(-1)
	cfg.Scoring.Retry = intPtr(-2)
	cfg.Run.SettleDelayMs = -100
	cfg.Normalize()

	assert.Equal(t, MinConcurrency, cfg.Run.Concurrency)
	assert.Equal(t, 0, *cfg.Run.RetryRounds)
	assert.Equal(t, 0, *cfg.Scoring.Retry)
	assert.Equal(t, DefaultSettleDelayMs, cfg.Run.SettleDelayMs)
}

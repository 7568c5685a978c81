package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spboyer/qbatch/internal/config"
)

func writeQuestions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadQuestions(t *testing.T) {
	path := writeQuestions(t, `
- question: 公司地址在哪裡？
  expected: 台北市信義區
- question: 營業時間？
- question: ""
`)
	qs, err := loadQuestions(path)
	require.NoError(t, err)
	require.Len(t, qs, 2, "blank questions are dropped")
	assert.Equal(t, "公司地址在哪裡？", qs[0].Text)
	assert.Equal(t, "台北市信義區", qs[0].ExpectedAnswer)
	assert.Empty(t, qs[1].ExpectedAnswer)
}

func TestLoadQuestions_BadYAML(t *testing.T) {
	path := writeQuestions(t, "question: not-a-list")
	_, err := loadQuestions(path)
	assert.Error(t, err)
}

func TestLoadQuestions_MissingFile(t *testing.T) {
	_, err := loadQuestions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyRunFlags_OverridesAndClamps(t *testing.T) {
	cmd := newRunCommand()
	require.NoError(t, cmd.Flags().Set("concurrency", "500"))
	require.NoError(t, cmd.Flags().Set("retry-rounds", "9"))
	require.NoError(t, cmd.Flags().Set("score", "true"))
	require.NoError(t, cmd.Flags().Set("channel", "Line Bot (k)"))

	cfg := config.New()
	flags := &runFlags{concurrency: 500, retryRounds: 9, score: true, channel: "Line Bot (k)"}
	applyRunFlags(cmd, cfg, flags)

	assert.Equal(t, config.MaxConcurrency, cfg.Run.Concurrency)
	assert.Equal(t, config.MaxRetryRounds, *cfg.Run.RetryRounds)
	assert.True(t, *cfg.Scoring.Enabled)
	assert.Equal(t, "Line Bot (k)", cfg.Service.Channel)
}

func TestApplyRunFlags_UnsetFlagsKeepConfig(t *testing.T) {
	cmd := newRunCommand()
	cfg := config.New()
	cfg.Run.Concurrency = 10

	applyRunFlags(cmd, cfg, &runFlags{})

	assert.Equal(t, 10, cfg.Run.Concurrency)
	assert.False(t, *cfg.Scoring.Enabled)
}

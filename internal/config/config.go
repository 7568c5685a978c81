// Package config provides the Config struct and loader for .qbatch.yaml
// project-level configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values for batch configuration. These are the single source of
// truth — New() references them and no other code should duplicate them.
const (
	DefaultConcurrency = 5
	MinConcurrency     = 1
	MaxConcurrency     = 50

	DefaultRetryRounds = 1
	MaxRetryRounds     = 5

	DefaultScoringRetry = 1
	MaxScoringRetry     = 3

	// DefaultSettleDelayMs is how long the engine waits after a wave
	// settles before re-probing the log size, so trailing writes land.
	DefaultSettleDelayMs = 600

	DefaultHistoryMaxAgeDays = 7

	DefaultChannel = "web"

	DefaultStorePath  = ".qbatch/batches.db"
	DefaultSessionDir = ".qbatch/sessions"

	DefaultScoringModel = "gpt-4o-mini"

	DefaultRequestTimeout = 120 // seconds
)

// DefaultScoringPrompt is substituted with the question, expected answer and
// extracted answer before each scoring call.
const DefaultScoringPrompt = `請評估以下回答是否符合預期。
使用者問句：$使用者問句$
預期答案：$預期答案$
實際回答：$answer$
請以 [NN%]：[符合預期/不符合預期]：說明 的格式回覆。`

// ServiceConfig holds the answer-service endpoints.
type ServiceConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	LogPath        string `yaml:"log_path,omitempty"`
	Tenant         string `yaml:"tenant,omitempty"`
	Channel        string `yaml:"channel,omitempty"`
	TimeoutSeconds int    `yaml:"timeout,omitempty"`
}

// RunConfig holds wave scheduling parameters.
type RunConfig struct {
	Concurrency int `yaml:"concurrency,omitempty"`
	// pointer so an explicit 0 in the file survives the merge
	RetryRounds   *int   `yaml:"retry_rounds,omitempty"`
	RetryMarkers  string `yaml:"retry_markers,omitempty"` // comma-separated
	SettleDelayMs int    `yaml:"settle_delay_ms,omitempty"`
}

// ScoringConfig holds the optional answer-scoring settings.
type ScoringConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Prompt  string `yaml:"prompt,omitempty"`
	Retry   *int   `yaml:"retry,omitempty"`
}

// StoreConfig holds snapshot persistence settings.
type StoreConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// SessionConfig holds event-log settings.
type SessionConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// Config is the top-level configuration loaded from .qbatch.yaml.
type Config struct {
	Service ServiceConfig `yaml:"service,omitempty"`
	Run     RunConfig     `yaml:"run,omitempty"`
	Scoring ScoringConfig `yaml:"scoring,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
}

// New returns a Config with all hard-coded defaults populated.
func New() *Config {
	return &Config{
		Service: ServiceConfig{
			Channel:        DefaultChannel,
			TimeoutSeconds: DefaultRequestTimeout,
		},
		Run: RunConfig{
			Concurrency:   DefaultConcurrency,
			RetryRounds:   intPtr(DefaultRetryRounds),
			SettleDelayMs: DefaultSettleDelayMs,
		},
		Scoring: ScoringConfig{
			Enabled: boolPtr(false),
			Model:   DefaultScoringModel,
			Prompt:  DefaultScoringPrompt,
			Retry:   intPtr(DefaultScoringRetry),
		},
		Store: StoreConfig{
			Path:       DefaultStorePath,
			MaxAgeDays: DefaultHistoryMaxAgeDays,
		},
		Session: SessionConfig{
			Enabled: boolPtr(true),
			Dir:     DefaultSessionDir,
		},
	}
}

// Load finds .qbatch.yaml by walking up from startDir (max 10 levels),
// unmarshals it, fills in missing fields with defaults and clamps values
// into their valid ranges. If no config file is found, returns defaults
// with a nil error. Real I/O errors are returned to the caller.
func Load(startDir string) (*Config, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.Normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("loading .qbatch.yaml: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing .qbatch.yaml: %w", err)
	}

	mergeConfig(cfg, &fileCfg)
	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps tunables into their valid ranges. Concurrency lands in
// [MinConcurrency, MaxConcurrency], retry rounds in [0, MaxRetryRounds],
// scoring retry in [0, MaxScoringRetry]. A non-positive settle delay falls
// back to the default.
func (c *Config) Normalize() {
	if c.Run.Concurrency < MinConcurrency {
		c.Run.Concurrency = MinConcurrency
	}
	if c.Run.Concurrency > MaxConcurrency {
		c.Run.Concurrency = MaxConcurrency
	}
	if c.Run.RetryRounds == nil {
		c.Run.RetryRounds = intPtr(DefaultRetryRounds)
	}
	if *c.Run.RetryRounds < 0 {
		*c.Run.RetryRounds = 0
	}
	if *c.Run.RetryRounds > MaxRetryRounds {
		*c.Run.RetryRounds = MaxRetryRounds
	}
	if c.Scoring.Retry == nil {
		c.Scoring.Retry = intPtr(DefaultScoringRetry)
	}
	if *c.Scoring.Retry < 0 {
		*c.Scoring.Retry = 0
	}
	if *c.Scoring.Retry > MaxScoringRetry {
		*c.Scoring.Retry = MaxScoringRetry
	}
	if c.Run.SettleDelayMs <= 0 {
		c.Run.SettleDelayMs = DefaultSettleDelayMs
	}
	if c.Store.MaxAgeDays <= 0 {
		c.Store.MaxAgeDays = DefaultHistoryMaxAgeDays
	}
	if c.Service.Channel == "" || c.Service.Channel == "default" {
		c.Service.Channel = DefaultChannel
	}
	if c.Service.TimeoutSeconds <= 0 {
		c.Service.TimeoutSeconds = DefaultRequestTimeout
	}
}

// findConfigFile walks up from dir looking for .qbatch.yaml (max 10 levels).
// Returns os.ErrNotExist if no config file is found.
func findConfigFile(dir string) ([]byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, ".qbatch.yaml")
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *Config) {
	if src.Service.BaseURL != "" {
		dst.Service.BaseURL = src.Service.BaseURL
	}
	if src.Service.LogPath != "" {
		dst.Service.LogPath = src.Service.LogPath
	}
	if src.Service.Tenant != "" {
		dst.Service.Tenant = src.Service.Tenant
	}
	if src.Service.Channel != "" {
		dst.Service.Channel = src.Service.Channel
	}
	if src.Service.TimeoutSeconds != 0 {
		dst.Service.TimeoutSeconds = src.Service.TimeoutSeconds
	}

	if src.Run.Concurrency != 0 {
		dst.Run.Concurrency = src.Run.Concurrency
	}
	if src.Run.RetryRounds != nil {
		dst.Run.RetryRounds = src.Run.RetryRounds
	}
	if src.Run.RetryMarkers != "" {
		dst.Run.RetryMarkers = src.Run.RetryMarkers
	}
	if src.Run.SettleDelayMs != 0 {
		dst.Run.SettleDelayMs = src.Run.SettleDelayMs
	}

	if src.Scoring.Enabled != nil {
		dst.Scoring.Enabled = src.Scoring.Enabled
	}
	if src.Scoring.BaseURL != "" {
		dst.Scoring.BaseURL = src.Scoring.BaseURL
	}
	if src.Scoring.APIKey != "" {
		dst.Scoring.APIKey = src.Scoring.APIKey
	}
	if src.Scoring.Model != "" {
		dst.Scoring.Model = src.Scoring.Model
	}
	if src.Scoring.Prompt != "" {
		dst.Scoring.Prompt = src.Scoring.Prompt
	}
	if src.Scoring.Retry != nil {
		dst.Scoring.Retry = src.Scoring.Retry
	}

	if src.Store.Path != "" {
		dst.Store.Path = src.Store.Path
	}
	if src.Store.MaxAgeDays != 0 {
		dst.Store.MaxAgeDays = src.Store.MaxAgeDays
	}

	if src.Session.Enabled != nil {
		dst.Session.Enabled = src.Session.Enabled
	}
	if src.Session.Dir != "" {
		dst.Session.Dir = src.Session.Dir
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}

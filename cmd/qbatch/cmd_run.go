package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spboyer/qbatch/internal/classify"
	"github.com/spboyer/qbatch/internal/config"
	"github.com/spboyer/qbatch/internal/logwatch"
	"github.com/spboyer/qbatch/internal/models"
	"github.com/spboyer/qbatch/internal/orchestration"
	"github.com/spboyer/qbatch/internal/qaclient"
	"github.com/spboyer/qbatch/internal/scoring"
	"github.com/spboyer/qbatch/internal/session"
	"github.com/spboyer/qbatch/internal/store"
)

type runFlags struct {
	file         string
	tenant       string
	channel      string
	baseURL      string
	logPath      string
	concurrency  int
	retryRounds  int
	retryMarkers string
	score        bool
	noStore      bool
	noSessionLog bool
}

func newRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of questions against the answer service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, &flags)
			return runBatch(cmd, cfg, &flags)
		},
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "YAML file with questions (required)")
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "Tenant name recorded on the batch")
	cmd.Flags().StringVar(&flags.channel, "channel", "", `Channel, optionally with key: "Line Bot (abc-123)"`)
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "Answer service base URL")
	cmd.Flags().StringVar(&flags.logPath, "log-path", "", "Service-side log file to correlate")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Questions asked in parallel per wave")
	cmd.Flags().IntVar(&flags.retryRounds, "retry-rounds", -1, "Extra rounds for weak answers")
	cmd.Flags().StringVar(&flags.retryMarkers, "retry-markers", "", "Extra answer markers that trigger a retry (comma-separated)")
	cmd.Flags().BoolVar(&flags.score, "score", false, "Score accepted answers against expected answers")
	cmd.Flags().BoolVar(&flags.noStore, "no-store", false, "Skip snapshot persistence")
	cmd.Flags().BoolVar(&flags.noSessionLog, "no-session-log", false, "Skip the NDJSON event log")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// applyRunFlags overlays explicitly-set flags onto the loaded config and
// re-normalizes.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags *runFlags) {
	if flags.tenant != "" {
		cfg.Service.Tenant = flags.tenant
	}
	if flags.channel != "" {
		cfg.Service.Channel = flags.channel
	}
	if flags.baseURL != "" {
		cfg.Service.BaseURL = flags.baseURL
	}
	if flags.logPath != "" {
		cfg.Service.LogPath = flags.logPath
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Run.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("retry-rounds") {
		cfg.Run.RetryRounds = &flags.retryRounds
	}
	if flags.retryMarkers != "" {
		cfg.Run.RetryMarkers = flags.retryMarkers
	}
	if cmd.Flags().Changed("score") {
		cfg.Scoring.Enabled = &flags.score
	}
	cfg.Normalize()
}

func runBatch(cmd *cobra.Command, cfg *config.Config, flags *runFlags) error {
	if cfg.Service.BaseURL == "" {
		return fmt.Errorf("answer service base URL is required (--base-url or .qbatch.yaml)")
	}

	questions, err := loadQuestions(flags.file)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions in %s", flags.file)
	}

	channelName, channelKey := qaclient.ParseChannel(cfg.Service.Channel)
	client := qaclient.New(
		cfg.Service.BaseURL,
		cfg.Service.LogPath,
		channelName,
		channelKey,
		time.Duration(cfg.Service.TimeoutSeconds)*time.Second,
	)

	batchID := store.NewBatchID(cfg.Service.Tenant)
	policy := classify.NewRetryPolicy(cfg.Run.RetryMarkers)

	opts := []orchestration.SessionOption{
		orchestration.WithTenant(cfg.Service.Tenant, channelName, channelKey),
	}

	if !flags.noStore {
		db, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.MaxAgeDays)*24*time.Hour)
		if err != nil {
			return err
		}
		opts = append(opts, orchestration.WithStore(db))
	}

	if cfg.Service.LogPath != "" {
		settle := time.Duration(cfg.Run.SettleDelayMs) * time.Millisecond
		opts = append(opts, orchestration.WithCorrelator(
			logwatch.New(client, client, cfg.Service.LogPath, settle)))
	}

	if cfg.Scoring.Enabled != nil && *cfg.Scoring.Enabled {
		scorer, err := scoring.NewOpenAIScorer(cfg.Scoring.APIKey, cfg.Scoring.BaseURL, cfg.Scoring.Model)
		if err != nil {
			return err
		}
		opts = append(opts, orchestration.WithScoring(
			scoring.NewQueue(scorer, cfg.Scoring.Prompt, *cfg.Scoring.Retry)))
	}

	if !flags.noSessionLog && cfg.Session.Enabled != nil && *cfg.Session.Enabled {
		logger, err := session.NewJSONLogger(session.LogPath(cfg.Session.Dir, batchID))
		if err != nil {
			return err
		}
		defer logger.Close()
		opts = append(opts, orchestration.WithEventLog(logger))
	}

	batch := orchestration.NewBatchSession(batchID, questions, client, policy,
		cfg.Run.Concurrency, *cfg.Run.RetryRounds, opts...)

	reporter := newConsoleReporter(cmd.OutOrStdout())
	batch.AddProgressListener(reporter.Handle)
	defer reporter.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := batch.Run(ctx)
	reporter.Stop()
	printSummary(cmd, batch)
	return runErr
}

type questionItem struct {
	Question string `yaml:"question"`
	Expected string `yaml:"expected,omitempty"`
}

func loadQuestions(path string) ([]orchestration.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading questions file: %w", err)
	}
	var items []questionItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var questions []orchestration.Question
	for _, item := range items {
		if item.Question == "" {
			continue
		}
		questions = append(questions, orchestration.Question{
			Text:           item.Question,
			ExpectedAnswer: item.Expected,
		})
	}
	return questions, nil
}

func printSummary(cmd *cobra.Command, batch *orchestration.BatchSession) {
	out := cmd.OutOrStdout()
	var resolved, exhausted int
	for _, e := range batch.Entries() {
		switch e.State {
		case models.StateResolved:
			resolved++
		case models.StateExhausted:
			exhausted++
		}
	}
	fmt.Fprintf(out, "\n%d questions: %d answered, %d without an acceptable answer\n",
		len(batch.Entries()), resolved, exhausted)
	for _, e := range batch.Entries() {
		if e.ScoreResult != "" {
			fmt.Fprintf(out, "  #%d %s\n", e.Ordinal+1, e.ScoreResult)
		}
		if e.ScoreError != "" {
			fmt.Fprintf(out, "  #%d scoring failed: %s\n", e.Ordinal+1, e.ScoreError)
		}
	}
}

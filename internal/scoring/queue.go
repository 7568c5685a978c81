// Package scoring grades accepted answers against their expected answers
// through an LLM judge. Work is strictly sequential: one scoring call in
// flight at a time, drained between waves so scoring never competes with
// the answer service for throughput.
package scoring

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spboyer/qbatch/internal/classify"
	"github.com/spboyer/qbatch/internal/models"
)

// Scorer performs a single judge call and returns the raw verdict text.
type Scorer interface {
	Score(ctx context.Context, prompt string) (string, error)
}

const (
	// passThreshold is the minimum leading [NN%] score that counts as a
	// satisfactory verdict.
	passThreshold = 60

	// hard cap on judge attempts regardless of configuration
	maxAttemptCap = 3

	rejectedPhrase = "不符合預期"
)

var scoreRe = regexp.MustCompile(`\[(\d{1,3})%\]`)

// Placeholders substituted into the prompt template.
const (
	placeholderQuestion = "$使用者問句$"
	placeholderExpected = "$預期答案$"
	placeholderAnswer   = "$answer$"
)

type item struct {
	entry *models.BatchEntry
}

// Queue is a FIFO of entries awaiting a judge verdict. A nil *Queue is a
// valid disabled queue: Add and Drain are no-ops.
type Queue struct {
	scorer      Scorer
	prompt      string
	maxAttempts int

	mu      sync.Mutex
	pending []item
}

// NewQueue builds a scoring queue. configuredRetry is the number of extra
// judge attempts allowed after the first; total attempts are capped at 3.
func NewQueue(scorer Scorer, promptTemplate string, configuredRetry int) *Queue {
	attempts := 1 + configuredRetry
	if attempts > maxAttemptCap {
		attempts = maxAttemptCap
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Queue{scorer: scorer, prompt: promptTemplate, maxAttempts: attempts}
}

// Add enqueues an entry when it is eligible for scoring: the best answer's
// marker must not be a fallback and an expected answer must be configured.
// Returns true when the entry was queued.
func (q *Queue) Add(entry *models.BatchEntry) bool {
	if q == nil || entry == nil || entry.Best == nil {
		return false
	}
	if classify.InDefaultSet(entry.Best.Marker) {
		return false
	}
	if strings.TrimSpace(entry.ExpectedAnswer) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, item{entry: entry})
	return true
}

// Drain scores every queued entry in FIFO order, one call at a time.
// Verdicts and judge errors are written onto the entries; Drain itself
// only fails on context cancellation.
func (q *Queue) Drain(ctx context.Context) error {
	if q == nil {
		return nil
	}
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		q.scoreEntry(ctx, next.entry)
	}
}

func (q *Queue) scoreEntry(ctx context.Context, entry *models.BatchEntry) {
	prompt := BuildPrompt(q.prompt, entry.Question, entry.ExpectedAnswer, entry.Best.Answer)

	var result string
	var lastErr error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		result, lastErr = q.scorer.Score(ctx, prompt)
		if lastErr != nil {
			slog.Debug("judge call failed", "ordinal", entry.Ordinal, "attempt", attempt, "error", lastErr)
			continue
		}
		if !ShouldRetryVerdict(result) {
			break
		}
		slog.Debug("judge verdict retried", "ordinal", entry.Ordinal, "attempt", attempt)
	}

	// The last attempt stands even when its verdict would have retried.
	entry.ScoreResult = result
	if lastErr != nil {
		entry.ScoreError = lastErr.Error()
	} else {
		entry.ScoreError = ""
	}
}

// BuildPrompt substitutes the question, expected answer and extracted
// answer into the judge prompt template.
func BuildPrompt(template, question, expected, answer string) string {
	r := strings.NewReplacer(
		placeholderQuestion, question,
		placeholderExpected, expected,
		placeholderAnswer, answer,
	)
	return r.Replace(template)
}

// ShouldRetryVerdict reports whether a judge verdict is weak enough to ask
// again: an empty result, an explicit rejection phrase, or a leading
// percentage below the pass threshold.
func ShouldRetryVerdict(result string) bool {
	if strings.TrimSpace(result) == "" {
		return true
	}
	if strings.Contains(result, rejectedPhrase) {
		return true
	}
	if m := scoreRe.FindStringSubmatch(result); m != nil {
		score, err := strconv.Atoi(m[1])
		if err == nil && score < passThreshold {
			return true
		}
	}
	return false
}

// Package orchestration drives a batch of questions through the answer
// service in sequential waves, retrying weak answers across rounds and
// folding every attempt into a best-answer per question.
package orchestration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spboyer/qbatch/internal/classify"
	"github.com/spboyer/qbatch/internal/logwatch"
	"github.com/spboyer/qbatch/internal/models"
	"github.com/spboyer/qbatch/internal/qaclient"
	"github.com/spboyer/qbatch/internal/scoring"
	"github.com/spboyer/qbatch/internal/session"
)

// AnswerService asks one question and returns the raw service response.
type AnswerService interface {
	Ask(ctx context.Context, question string) (*qaclient.AskResult, error)
}

// SnapshotStore persists batch snapshots between waves.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, meta *models.BatchMeta, entries []*models.BatchEntry, logs []*models.LogWaveRecord) error
}

// ProgressListener receives lifecycle events as the session works through
// the batch.
type ProgressListener func(event models.BatchEvent)

// Question is one input row of a batch.
type Question struct {
	Text           string
	ExpectedAnswer string
}

// BatchSession runs one batch end to end. Construct with NewBatchSession;
// a session is single-use.
type BatchSession struct {
	batchID    string
	tenant     string
	channel    string
	channelKey string

	svc        AnswerService
	policy     *classify.RetryPolicy
	correlator *logwatch.Correlator
	scores     *scoring.Queue
	store      SnapshotStore
	eventLog   session.Logger

	concurrency int
	retryRounds int

	entries []*models.BatchEntry
	logs    []*models.LogWaveRecord

	progressMu sync.Mutex
	listeners  []ProgressListener

	timingMu  sync.Mutex
	firstSent time.Time
	lastResp  time.Time
	lastValid time.Time
	completed int
	lastError string
}

// SessionOption configures a BatchSession.
type SessionOption func(*BatchSession)

// WithStore persists snapshots after every wave and on completion.
func WithStore(s SnapshotStore) SessionOption {
	return func(b *BatchSession) { b.store = s }
}

// WithCorrelator captures per-wave log deltas.
func WithCorrelator(c *logwatch.Correlator) SessionOption {
	return func(b *BatchSession) { b.correlator = c }
}

// WithScoring grades accepted answers between waves. A nil queue disables
// scoring.
func WithScoring(q *scoring.Queue) SessionOption {
	return func(b *BatchSession) { b.scores = q }
}

// WithEventLog mirrors lifecycle events into a session log.
func WithEventLog(l session.Logger) SessionOption {
	return func(b *BatchSession) { b.eventLog = l }
}

// WithTenant records the tenant and channel identity on the snapshot meta.
func WithTenant(tenant, channel, channelKey string) SessionOption {
	return func(b *BatchSession) {
		b.tenant = tenant
		b.channel = channel
		b.channelKey = channelKey
	}
}

// NewBatchSession builds a session over the given questions. concurrency
// is additionally clamped to the question count; retryRounds is the
// number of extra rounds after the initial pass.
func NewBatchSession(batchID string, questions []Question, svc AnswerService, policy *classify.RetryPolicy, concurrency, retryRounds int, opts ...SessionOption) *BatchSession {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(questions) && len(questions) > 0 {
		concurrency = len(questions)
	}
	if retryRounds < 0 {
		retryRounds = 0
	}

	b := &BatchSession{
		batchID:     batchID,
		svc:         svc,
		policy:      policy,
		concurrency: concurrency,
		retryRounds: retryRounds,
		eventLog:    session.NopLogger{},
	}
	for i, q := range questions {
		b.entries = append(b.entries, &models.BatchEntry{
			Ordinal:        i,
			Question:       q.Text,
			ExpectedAnswer: q.ExpectedAnswer,
			State:          models.StatePending,
		})
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddProgressListener registers a listener for lifecycle events.
func (b *BatchSession) AddProgressListener(l ProgressListener) {
	b.progressMu.Lock()
	defer b.progressMu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Entries returns the per-question slots in ordinal order.
func (b *BatchSession) Entries() []*models.BatchEntry {
	return b.entries
}

// Logs returns the per-wave log records captured so far.
func (b *BatchSession) Logs() []*models.LogWaveRecord {
	return b.logs
}

// Run executes the batch: an initial round over every question, then up
// to retryRounds rounds over the questions whose best answer still needs
// a retry. Run blocks until the batch completes, fails or ctx is
// cancelled; a cancelled run flushes a stopped snapshot before returning.
func (b *BatchSession) Run(ctx context.Context) error {
	defer b.notify(models.BatchEvent{Type: models.EventBatchFinished, BatchID: b.batchID})

	b.notify(models.BatchEvent{
		Type:    models.EventBatchStart,
		BatchID: b.batchID,
		Total:   len(b.entries),
	})

	if err := b.runRounds(ctx); err != nil {
		if ctx.Err() != nil {
			b.flushStopped()
			b.notify(models.BatchEvent{Type: models.EventBatchError, BatchID: b.batchID, Err: ctx.Err().Error()})
			return ctx.Err()
		}
		b.flushError(err)
		b.notify(models.BatchEvent{Type: models.EventBatchError, BatchID: b.batchID, Err: err.Error()})
		return err
	}

	// questions that never produced an acceptable answer are done retrying
	for _, e := range b.entries {
		if e.NeedsRetry() {
			e.State = models.StateExhausted
			b.scores.Add(e)
		}
	}
	if err := b.scores.Drain(ctx); err != nil {
		b.flushStopped()
		b.notify(models.BatchEvent{Type: models.EventBatchError, BatchID: b.batchID, Err: err.Error()})
		return err
	}

	b.persist(models.StatusCompleted, false)
	b.notify(models.BatchEvent{
		Type:      models.EventBatchComplete,
		BatchID:   b.batchID,
		Completed: b.completed,
		Total:     len(b.entries),
	})
	return nil
}

func (b *BatchSession) runRounds(ctx context.Context) error {
	for round := 0; round <= b.retryRounds; round++ {
		ordinals := b.roundOrdinals(round)
		if len(ordinals) == 0 {
			break
		}
		slog.Debug("round starting", "batch", b.batchID, "round", round, "questions", len(ordinals))

		for _, wave := range Waves(ordinals, b.concurrency) {
			if err := b.runWave(ctx, round, wave); err != nil {
				return err
			}
		}
	}
	return nil
}

// roundOrdinals returns the ordinals to process in a round: everything on
// the initial pass, then only the questions still needing a retry.
func (b *BatchSession) roundOrdinals(round int) []int {
	if round == 0 {
		ordinals := make([]int, len(b.entries))
		for i := range b.entries {
			ordinals[i] = i
		}
		return ordinals
	}
	var ordinals []int
	for _, e := range b.entries {
		if e.NeedsRetry() {
			ordinals = append(ordinals, e.Ordinal)
		}
	}
	return ordinals
}

func (b *BatchSession) runWave(ctx context.Context, round int, wave []int) error {
	var probe *logwatch.WaveProbe
	if b.correlator != nil {
		probe = b.correlator.Begin(ctx)
	}

	records := make([]*models.AnswerRecord, len(wave))
	g, gctx := errgroup.WithContext(ctx)
	for i, ordinal := range wave {
		i, ordinal := i, ordinal
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = b.askOne(gctx, b.entries[ordinal], round)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rangeStart := wave[0] + 1
	rangeEnd := wave[len(wave)-1] + 1

	if b.correlator != nil {
		rec := b.correlator.Finish(ctx, probe, round, rangeStart, rangeEnd)
		b.logs = append(b.logs, rec)
		for _, r := range records {
			if r != nil {
				r.TailLogRef = rec.Ref()
			}
		}
		// every entry touched in this wave links to this wave's record,
		// even when an earlier attempt remains its best answer
		for _, ordinal := range wave {
			if best := b.entries[ordinal].Best; best != nil {
				best.TailLogRef = rec.Ref()
			}
		}
	}

	// score answers that settled in this wave
	for _, ordinal := range wave {
		if e := b.entries[ordinal]; !e.NeedsRetry() {
			b.scores.Add(e)
		}
	}
	if err := b.scores.Drain(ctx); err != nil {
		return err
	}

	b.persist(models.StatusInProgress, false)

	waveEntries := make([]*models.BatchEntry, 0, len(wave))
	for _, ordinal := range wave {
		waveEntries = append(waveEntries, b.entries[ordinal])
	}
	var waveLogs []*models.LogWaveRecord
	if n := len(b.logs); b.correlator != nil && n > 0 {
		waveLogs = b.logs[n-1:]
	}
	b.notify(models.BatchEvent{
		Type:       models.EventBatchProgress,
		BatchID:    b.batchID,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Round:      round,
		Completed:  b.completed,
		Total:      len(b.entries),
		Results:    waveEntries,
		Logs:       waveLogs,
	})
	return ctx.Err()
}

// askOne performs a single attempt and folds it into the entry. Transport
// failures become a retryable fallback record; they never abort the wave.
func (b *BatchSession) askOne(ctx context.Context, entry *models.BatchEntry, round int) *models.AnswerRecord {
	record := &models.AnswerRecord{
		Ordinal: entry.Ordinal,
		Round:   round,
		SentAt:  time.Now(),
	}

	b.timingMu.Lock()
	entry.State = models.StateAttempted
	b.timingMu.Unlock()

	res, err := b.svc.Ask(ctx, entry.Question)
	if err != nil {
		record.ResponseAt = time.Now()
		record.Priority = classify.PriorityFallback
		record.NeedsRetry = true
		record.Error = err.Error()
		slog.Debug("ask failed", "batch", b.batchID, "ordinal", entry.Ordinal, "round", round, "error", err)
	} else {
		verdict := b.policy.Classify(res.Body)
		record.Marker = verdict.Marker
		record.Priority = verdict.Priority
		record.NeedsRetry = verdict.NeedsRetry
		record.Answer = classify.ExtractAnswer(res.Body)
		record.RawBody = string(res.Body)
		record.SentAt = res.SentAt
		record.ResponseAt = res.ReceivedAt
		record.ResponseTime = res.ResponseTimeMs()
	}

	b.timingMu.Lock()
	entry.Attempts++
	entry.Best = classify.SelectBetter(entry.Best, record)
	if entry.NeedsRetry() {
		entry.State = models.StateNeedsRetry
	} else {
		entry.State = models.StateResolved
	}
	if b.firstSent.IsZero() || record.SentAt.Before(b.firstSent) {
		b.firstSent = record.SentAt
	}
	if record.ResponseAt.After(b.lastResp) {
		b.lastResp = record.ResponseAt
	}
	if record.Error == "" && record.ResponseAt.After(b.lastValid) {
		b.lastValid = record.ResponseAt
	}
	if round == 0 {
		b.completed++
	}
	b.timingMu.Unlock()

	return record
}

// Waves partitions ordinals into contiguous ascending chunks of at most
// size elements.
func Waves(ordinals []int, size int) [][]int {
	if size < 1 {
		size = 1
	}
	var waves [][]int
	for start := 0; start < len(ordinals); start += size {
		end := start + size
		if end > len(ordinals) {
			end = len(ordinals)
		}
		waves = append(waves, ordinals[start:end])
	}
	return waves
}

func (b *BatchSession) meta(status models.BatchStatus, partial bool) *models.BatchMeta {
	b.timingMu.Lock()
	defer b.timingMu.Unlock()

	var unresolved int
	for _, e := range b.entries {
		if e.Best == nil || e.Best.NeedsRetry {
			unresolved++
		}
	}

	meta := &models.BatchMeta{
		BatchID:             b.batchID,
		Tenant:              b.tenant,
		Channel:             b.channel,
		ChannelKey:          b.channelKey,
		Status:              status,
		Partial:             partial,
		Total:               len(b.entries),
		Completed:           b.completed,
		UnresolvedCount:     unresolved,
		LastError:           b.lastError,
		FirstSentAt:         b.firstSent,
		LastResponseAt:      b.lastResp,
		LastValidReceivedAt: b.lastValid,
	}
	effectiveLast := b.lastValid
	if effectiveLast.IsZero() {
		effectiveLast = b.lastResp
	}
	if !b.firstSent.IsZero() && !effectiveLast.IsZero() {
		meta.DurationMs = effectiveLast.Sub(b.firstSent).Milliseconds()
	}
	return meta
}

// persist flushes a snapshot. Write failures are logged and swallowed:
// the batch keeps running in memory and the next successful write catches
// up on everything accumulated since.
func (b *BatchSession) persist(status models.BatchStatus, partial bool) {
	if b.store == nil {
		return
	}
	// snapshots are flushed even while the run context is being torn down
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.store.SaveSnapshot(ctx, b.meta(status, partial), b.entries, b.logs); err != nil {
		slog.Warn("snapshot write failed, continuing in memory", "batch", b.batchID, "status", status, "error", err)
	}
}

// flushStopped saves a stopped, partial snapshot preserving everything
// computed so far.
func (b *BatchSession) flushStopped() {
	b.persist(models.StatusStopped, true)
}

func (b *BatchSession) flushError(cause error) {
	b.timingMu.Lock()
	b.lastError = cause.Error()
	b.timingMu.Unlock()
	b.persist(models.StatusError, true)
}

// notify fans an event out to the registered listeners and the session
// log. The listener slice is copied before calling out so listeners may
// register more listeners.
func (b *BatchSession) notify(event models.BatchEvent) {
	b.progressMu.Lock()
	listeners := make([]ProgressListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.progressMu.Unlock()

	for _, l := range listeners {
		l(event)
	}

	data := map[string]any{
		"round":     event.Round,
		"completed": event.Completed,
		"total":     event.Total,
	}
	if event.RangeStart != 0 {
		data["rangeStart"] = event.RangeStart
		data["rangeEnd"] = event.RangeEnd
	}
	if event.Err != "" {
		data["error"] = event.Err
	}
	if err := b.eventLog.Log(session.NewEvent(string(event.Type), event.BatchID, data)); err != nil {
		slog.Debug("session log write failed", "batch", b.batchID, "error", err)
	}
}

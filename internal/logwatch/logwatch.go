// Package logwatch correlates service log growth with the waves of a batch
// run. It probes the log size before a wave, waits for trailing writes to
// settle afterwards, and captures the grown tail as one record per wave.
package logwatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spboyer/qbatch/internal/models"
)

// SizeProbe reports the current size of the service log in bytes.
type SizeProbe interface {
	Size(ctx context.Context) (int64, error)
}

// TailFetcher retrieves length bytes of log content starting at offset.
type TailFetcher interface {
	Tail(ctx context.Context, offset, length int64) (string, error)
}

// Correlator captures per-wave log deltas. Probe and fetch failures are
// noted in the produced record and never fail the wave.
type Correlator struct {
	probe   SizeProbe
	fetch   TailFetcher
	logPath string
	settle  time.Duration
}

// New builds a Correlator. settle is how long Finish waits before the
// second size probe so late writes land in the delta.
func New(probe SizeProbe, fetch TailFetcher, logPath string, settle time.Duration) *Correlator {
	return &Correlator{probe: probe, fetch: fetch, logPath: logPath, settle: settle}
}

// WaveProbe holds the before-size observation taken at the start of a wave.
type WaveProbe struct {
	Before    int64
	BeforeErr error
}

// Begin probes the log size ahead of a wave. A failed probe is carried
// into the record Finish builds rather than returned.
func (c *Correlator) Begin(ctx context.Context) *WaveProbe {
	size, err := c.probe.Size(ctx)
	return &WaveProbe{Before: size, BeforeErr: err}
}

// Finish waits for the settle delay, re-probes the log, fetches any grown
// tail and builds the wave record. rangeStart/rangeEnd are 1-based question
// ordinals. Finish always returns a record.
func (c *Correlator) Finish(ctx context.Context, wp *WaveProbe, round, rangeStart, rangeEnd int) *models.LogWaveRecord {
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
	}

	rec := &models.LogWaveRecord{
		Round:      round,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		FileName:   FileName(round, rangeStart, rangeEnd),
		BeforeSize: wp.Before,
	}

	var notes []string
	if wp.BeforeErr != nil {
		notes = append(notes, fmt.Sprintf("before-size probe failed: %v", wp.BeforeErr))
	}

	after, err := c.probe.Size(ctx)
	if err != nil {
		notes = append(notes, fmt.Sprintf("after-size probe failed: %v", err))
	}
	rec.AfterSize = after

	rec.Delta = after - wp.Before
	if rec.Delta < 0 {
		rec.Delta = 0
	}

	var tail string
	if rec.Delta > 0 && wp.BeforeErr == nil && err == nil {
		tail, err = c.fetch.Tail(ctx, wp.Before, rec.Delta)
		if err != nil {
			notes = append(notes, fmt.Sprintf("tail fetch failed: %v", err))
			tail = ""
		}
	}

	rec.Content = buildContent(rec, c.logPath, notes, tail)
	return rec
}

// FileName builds the per-wave log file name. Round 0 carries no label,
// retry rounds are prefixed retryN. An equal start and end collapses to a
// single ordinal: "retry2_7_logs.txt".
func FileName(round, rangeStart, rangeEnd int) string {
	var b strings.Builder
	if round > 0 {
		fmt.Fprintf(&b, "retry%d_", round)
	}
	if rangeStart == rangeEnd {
		fmt.Fprintf(&b, "%d", rangeStart)
	} else {
		fmt.Fprintf(&b, "%d_%d", rangeStart, rangeEnd)
	}
	b.WriteString("_logs.txt")
	return b.String()
}

func buildContent(rec *models.LogWaveRecord, logPath string, notes []string, tail string) string {
	var b strings.Builder
	if rec.RangeStart == rec.RangeEnd {
		fmt.Fprintf(&b, "question: %d\n", rec.RangeStart)
	} else {
		fmt.Fprintf(&b, "questions: %d-%d\n", rec.RangeStart, rec.RangeEnd)
	}
	fmt.Fprintf(&b, "stage: %s\n", stageLabel(rec.Round))
	fmt.Fprintf(&b, "log: %s\n", logPath)
	fmt.Fprintf(&b, "before: %d bytes\n", rec.BeforeSize)
	fmt.Fprintf(&b, "after: %d bytes\n", rec.AfterSize)
	fmt.Fprintf(&b, "diff: %d bytes\n", rec.Delta)
	for _, n := range notes {
		fmt.Fprintf(&b, "note: %s\n", n)
	}
	b.WriteString("\n")
	if tail != "" {
		b.WriteString(tail)
	} else {
		b.WriteString("no new logs\n")
	}
	return b.String()
}

func stageLabel(round int) string {
	if round == 0 {
		return "initial"
	}
	return fmt.Sprintf("retry%d", round)
}

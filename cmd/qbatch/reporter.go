package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spboyer/qbatch/internal/models"
	"github.com/spboyer/qbatch/internal/spinner"
)

// consoleReporter renders batch lifecycle events for an interactive run.
type consoleReporter struct {
	w io.Writer

	mu   sync.Mutex
	spin *spinner.Spinner
}

func newConsoleReporter(w io.Writer) *consoleReporter {
	return &consoleReporter{w: w}
}

// Handle implements orchestration.ProgressListener.
func (r *consoleReporter) Handle(ev models.BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case models.EventBatchStart:
		fmt.Fprintf(r.w, "batch %s: %d questions\n", ev.BatchID, ev.Total)
		r.spin = spinner.Start(r.w, "asking questions...")
	case models.EventBatchProgress:
		r.halt()
		stage := "wave"
		if ev.Round > 0 {
			stage = fmt.Sprintf("retry%d wave", ev.Round)
		}
		fmt.Fprintf(r.w, "%s %d-%d done (%d/%d)\n", stage, ev.RangeStart, ev.RangeEnd, ev.Completed, ev.Total)
		r.spin = spinner.Start(r.w, "asking questions...")
	case models.EventBatchComplete:
		r.halt()
		fmt.Fprintf(r.w, "batch %s completed (%d/%d)\n", ev.BatchID, ev.Completed, ev.Total)
	case models.EventBatchError:
		r.halt()
		fmt.Fprintf(r.w, "batch %s failed: %s\n", ev.BatchID, ev.Err)
	case models.EventBatchFinished:
		r.halt()
	}
}

// Stop clears any running spinner.
func (r *consoleReporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halt()
}

func (r *consoleReporter) halt() {
	if r.spin != nil {
		r.spin.Stop()
		r.spin = nil
	}
}

package models

import "time"

// EntryState tracks where a question is in its retry lifecycle.
type EntryState string

const (
	StatePending    EntryState = "pending"
	StateAttempted  EntryState = "attempted"
	StateResolved   EntryState = "resolved"
	StateNeedsRetry EntryState = "needs_retry"
	StateExhausted  EntryState = "exhausted"
)

// AnswerRecord is one attempt at answering a question. Priority is the
// classifier verdict: 1 is a real answer, 2 matched a user-configured retry
// marker, 3 matched the built-in retry set (or the response failed to parse).
type AnswerRecord struct {
	Ordinal      int       `json:"ordinal"`
	Round        int       `json:"round"`
	Marker       string    `json:"marker"`
	Priority     int       `json:"priority"`
	Answer       string    `json:"answer"`
	RawBody      string    `json:"rawBody,omitempty"`
	SentAt       time.Time `json:"sentAt"`
	ResponseAt   time.Time `json:"responseAt"`
	Error        string    `json:"error,omitempty"`
	NeedsRetry   bool      `json:"needsRetry"`
	TailLogRef   string    `json:"tailLogRef,omitempty"`
	ResponseTime int64     `json:"responseTimeMs"`
}

// BatchEntry is the per-question slot, stored by original ordinal. Best holds
// the lowest-priority record seen so far across rounds.
type BatchEntry struct {
	Ordinal        int           `json:"ordinal"`
	Question       string        `json:"question"`
	ExpectedAnswer string        `json:"expectedAnswer,omitempty"`
	State          EntryState    `json:"state"`
	Attempts       int           `json:"attempts"`
	Best           *AnswerRecord `json:"best,omitempty"`
	ScoreResult    string        `json:"scoreResult,omitempty"`
	ScoreError     string        `json:"scoreError,omitempty"`
}

// NeedsRetry reports whether the entry should be picked up by the next
// retry round.
func (e *BatchEntry) NeedsRetry() bool {
	return e.Best != nil && e.Best.NeedsRetry
}

// Package classify decides whether an answer-service response is a real
// answer or a fallback that should be retried, and keeps the best record
// seen across retry rounds.
package classify

import (
	"encoding/json"
	"strings"

	"github.com/spboyer/qbatch/internal/models"
)

// Classifier verdict priorities, lowest wins when selecting the best record.
const (
	PriorityAnswered   = 1 // a real answer
	PriorityConfigured = 2 // matched a user-configured retry marker
	PriorityFallback   = 3 // matched the built-in fallback set, or unparseable
)

// markerField is the JSON field the answer service stamps with the
// component that produced the answer.
const markerField = "__AnswerBy__"

// defaultRetrySet holds the markers that always indicate "no usable answer".
var defaultRetrySet = map[string]struct{}{
	"":          {},
	"unknown":   {},
	"no answer": {},
	"no_answer": {},
}

// RetryPolicy maps answer markers to priorities. The zero value is not
// usable; construct with NewRetryPolicy.
type RetryPolicy struct {
	additional map[string]struct{}
}

// NewRetryPolicy builds a policy from a comma-separated list of extra
// markers that should also trigger a retry. Entries are lowercased and
// trimmed; empties are dropped.
func NewRetryPolicy(extraMarkers string) *RetryPolicy {
	p := &RetryPolicy{additional: map[string]struct{}{}}
	for _, m := range strings.Split(extraMarkers, ",") {
		m = NormalizeMarker(m)
		if m == "" {
			continue
		}
		p.additional[m] = struct{}{}
	}
	return p
}

// NormalizeMarker lowercases and trims a marker for set membership checks.
func NormalizeMarker(marker string) string {
	return strings.ToLower(strings.TrimSpace(marker))
}

// InDefaultSet reports whether the marker belongs to the built-in
// fallback set.
func InDefaultSet(marker string) bool {
	_, ok := defaultRetrySet[NormalizeMarker(marker)]
	return ok
}

// Priority returns the classifier priority for a marker.
func (p *RetryPolicy) Priority(marker string) int {
	m := NormalizeMarker(marker)
	if _, ok := defaultRetrySet[m]; ok {
		return PriorityFallback
	}
	if _, ok := p.additional[m]; ok {
		return PriorityConfigured
	}
	return PriorityAnswered
}

// ShouldRetry reports whether an answer with this marker should be
// re-asked in a later round.
func (p *RetryPolicy) ShouldRetry(marker string) bool {
	return p.Priority(marker) > PriorityAnswered
}

// Verdict is the classification of one raw response body.
type Verdict struct {
	Marker     string
	Priority   int
	NeedsRetry bool
}

// Classify parses the response body and grades its answer marker. A body
// that is not valid JSON, or that carries no marker, grades as a fallback
// needing retry; classification itself never fails.
func (p *RetryPolicy) Classify(rawBody []byte) Verdict {
	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Verdict{Priority: PriorityFallback, NeedsRetry: true}
	}
	marker, _ := payload[markerField].(string)
	prio := p.Priority(marker)
	return Verdict{
		Marker:     strings.TrimSpace(marker),
		Priority:   prio,
		NeedsRetry: prio > PriorityAnswered,
	}
}

// SelectBetter returns the preferred of two answer records. The candidate
// replaces the current record only when its priority is strictly lower;
// ties keep the earlier record. Either argument may be nil.
func SelectBetter(current, candidate *models.AnswerRecord) *models.AnswerRecord {
	if current == nil {
		return candidate
	}
	if candidate == nil {
		return current
	}
	if candidate.Priority < current.Priority {
		return candidate
	}
	return current
}

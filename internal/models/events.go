package models

// EventType identifies engine lifecycle notifications.
type EventType string

const (
	EventBatchStart    EventType = "batch-start"
	EventBatchProgress EventType = "batch-progress"
	EventBatchComplete EventType = "batch-complete"
	EventBatchError    EventType = "batch-error"
	EventBatchFinished EventType = "batch-finished"
)

// BatchEvent is delivered to progress listeners as the engine works through
// a batch. Range and payload fields are populated for progress events only.
type BatchEvent struct {
	Type    EventType
	BatchID string

	// RangeStart/RangeEnd are the 1-based ordinals of the wave just
	// finished, on progress events.
	RangeStart int
	RangeEnd   int
	Round      int

	Completed int
	Total     int

	Results []*BatchEntry
	Logs    []*LogWaveRecord

	// Err carries the failure message on batch-error events.
	Err string
}

package models

import "time"

// BatchStatus is the lifecycle status of a stored batch.
type BatchStatus string

const (
	StatusInProgress BatchStatus = "in_progress"
	StatusCompleted  BatchStatus = "completed"
	StatusError      BatchStatus = "error"
	StatusStopped    BatchStatus = "stopped"
)

// Terminal reports whether s is a final status that must not be overwritten
// by an empty incoming status.
func (s BatchStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	}
	return false
}

// BatchMeta is the snapshot header for one batch run.
type BatchMeta struct {
	BatchID    string      `json:"batchId"`
	Tenant     string      `json:"tenant,omitempty"`
	Channel    string      `json:"channel,omitempty"`
	ChannelKey string      `json:"channelKey,omitempty"`
	Status     BatchStatus `json:"status"`
	Partial    bool        `json:"partial,omitempty"`
	Downloaded bool        `json:"downloaded,omitempty"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`

	// UnresolvedCount is how many entries still lack an acceptable
	// answer; LastError records the failure cause on error snapshots.
	UnresolvedCount int    `json:"unresolvedCount"`
	LastError       string `json:"lastError,omitempty"`

	FirstSentAt         time.Time `json:"firstSentAt,omitempty"`
	LastResponseAt      time.Time `json:"lastResponseAt,omitempty"`
	LastValidReceivedAt time.Time `json:"lastValidReceivedAt,omitempty"`
	DurationMs          int64     `json:"durationMs,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogWaveRecord captures the log-file delta observed around one wave.
type LogWaveRecord struct {
	Round      int    `json:"round"`
	RangeStart int    `json:"rangeStart"` // 1-based question ordinal
	RangeEnd   int    `json:"rangeEnd"`
	FileName   string `json:"fileName"`
	Content    string `json:"content"`
	BeforeSize int64  `json:"beforeSize"`
	AfterSize  int64  `json:"afterSize"`
	Delta      int64  `json:"delta"`
}

// Ref returns the storage path results use to point at this record.
func (r *LogWaveRecord) Ref() string {
	return "logs/" + r.FileName
}

// Package store persists batch snapshots to a local SQLite database. A
// snapshot is the batch meta plus its entries and per-wave log records;
// saves are transactional per batch and old batches are pruned on every
// save.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/spboyer/qbatch/internal/models"
)

// ErrPersistence wraps all database failures surfaced by the store.
var ErrPersistence = errors.New("persistence error")

// ErrNotFound is returned when a batch id does not exist.
var ErrNotFound = errors.New("batch not found")

type batchRow struct {
	ID         string `gorm:"primaryKey"`
	Tenant     string
	Channel    string
	ChannelKey string
	Status     string
	Partial    bool
	Downloaded bool
	Total      int
	Completed  int

	UnresolvedCount int
	LastError       string

	FirstSentAt         time.Time
	LastResponseAt      time.Time
	LastValidReceivedAt time.Time
	DurationMs          int64

	// timestamps are managed by mergeMeta, not by gorm
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (batchRow) TableName() string { return "batches" }

type entryRow struct {
	BatchID string `gorm:"primaryKey"`
	Seq     int    `gorm:"primaryKey;autoIncrement:false"`
	Ordinal int
	Data    []byte
}

func (entryRow) TableName() string { return "batch_entries" }

type logRow struct {
	BatchID  string `gorm:"primaryKey"`
	Seq      int    `gorm:"primaryKey;autoIncrement:false"`
	FileName string
	Data     []byte
}

func (logRow) TableName() string { return "batch_logs" }

// Snapshot is a fully loaded batch.
type Snapshot struct {
	Meta    *models.BatchMeta
	Entries []*models.BatchEntry
	Logs    []*models.LogWaveRecord
}

// Store wraps the SQLite database holding batch snapshots.
type Store struct {
	db     *gorm.DB
	maxAge time.Duration
	now    func() time.Time
}

// Open opens (creating if needed) the snapshot database at path. Batches
// whose last update is older than maxAge are pruned on each save.
func Open(path string, maxAge time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating store dir: %v", ErrPersistence, err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrPersistence, path, err)
	}
	if err := db.AutoMigrate(&batchRow{}, &entryRow{}, &logRow{}); err != nil {
		return nil, fmt.Errorf("%w: migrating schema: %v", ErrPersistence, err)
	}
	return &Store{db: db, maxAge: maxAge, now: time.Now}, nil
}

// SaveSnapshot upserts a batch. Meta is merged over any stored row:
// omitted fields keep their stored values and a terminal status is never
// overwritten by an empty incoming status. Entries and logs replace the
// stored sets only when non-nil; nil means "keep stored". The whole save
// is one transaction, followed by a retention prune.
func (s *Store) SaveSnapshot(ctx context.Context, meta *models.BatchMeta, entries []*models.BatchEntry, logs []*models.LogWaveRecord) error {
	if meta == nil || meta.BatchID == "" {
		return fmt.Errorf("%w: snapshot requires a batch id", ErrPersistence)
	}
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing batchRow
		found := true
		if err := tx.First(&existing, "id = ?", meta.BatchID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			found = false
		}

		row := mergeMeta(existingPtr(found, &existing), meta, now)
		if found {
			if err := tx.Model(&batchRow{}).Where("id = ?", row.ID).Select("*").Updates(row).Error; err != nil {
				return err
			}
		} else if err := tx.Create(row).Error; err != nil {
			return err
		}

		if entries != nil {
			if err := tx.Delete(&entryRow{}, "batch_id = ?", meta.BatchID).Error; err != nil {
				return err
			}
			for i, e := range entries {
				data, err := json.Marshal(e)
				if err != nil {
					return err
				}
				if err := tx.Create(&entryRow{BatchID: meta.BatchID, Seq: i, Ordinal: e.Ordinal, Data: data}).Error; err != nil {
					return err
				}
			}
		}

		if logs != nil {
			if err := tx.Delete(&logRow{}, "batch_id = ?", meta.BatchID).Error; err != nil {
				return err
			}
			for i, l := range logs {
				data, err := json.Marshal(l)
				if err != nil {
					return err
				}
				if err := tx.Create(&logRow{BatchID: meta.BatchID, Seq: i, FileName: l.FileName, Data: data}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: saving %s: %v", ErrPersistence, meta.BatchID, err)
	}
	return s.prune(ctx, now)
}

func existingPtr(found bool, row *batchRow) *batchRow {
	if !found {
		return nil
	}
	return row
}

// mergeMeta applies the incoming patch over the stored row. Empty incoming
// fields keep the stored values; a stored terminal status survives an
// empty or in_progress incoming status only when the patch leaves status
// unset.
func mergeMeta(existing *batchRow, patch *models.BatchMeta, now time.Time) *batchRow {
	row := &batchRow{ID: patch.BatchID, CreatedAt: now}
	if existing != nil {
		*row = *existing
	}

	if patch.Tenant != "" {
		row.Tenant = patch.Tenant
	}
	if patch.Channel != "" {
		row.Channel = patch.Channel
	}
	if patch.ChannelKey != "" {
		row.ChannelKey = patch.ChannelKey
	}

	switch {
	case patch.Status != "":
		row.Status = string(patch.Status)
	case models.BatchStatus(row.Status).Terminal():
		// keep the terminal status
	case row.Status == "":
		row.Status = string(models.StatusInProgress)
	}

	if patch.Partial {
		row.Partial = true
	}
	if patch.Downloaded {
		row.Downloaded = true
	}
	if patch.Total != 0 {
		row.Total = patch.Total
	}
	if patch.Completed != 0 {
		row.Completed = patch.Completed
	}
	// the engine recomputes this on every flush, so zero is meaningful
	row.UnresolvedCount = patch.UnresolvedCount
	if patch.LastError != "" {
		row.LastError = patch.LastError
	}
	if !patch.FirstSentAt.IsZero() {
		row.FirstSentAt = patch.FirstSentAt
	}
	if !patch.LastResponseAt.IsZero() {
		row.LastResponseAt = patch.LastResponseAt
	}
	if !patch.LastValidReceivedAt.IsZero() {
		row.LastValidReceivedAt = patch.LastValidReceivedAt
	}
	if patch.DurationMs != 0 {
		row.DurationMs = patch.DurationMs
	}

	row.UpdatedAt = now
	return row
}

// prune removes batches whose last update is older than the retention
// window, along with their entries and logs.
func (s *Store) prune(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.maxAge)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []string
		if err := tx.Model(&batchRow{}).Where("updated_at < ?", cutoff).Pluck("id", &stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		if err := tx.Delete(&entryRow{}, "batch_id IN ?", stale).Error; err != nil {
			return err
		}
		if err := tx.Delete(&logRow{}, "batch_id IN ?", stale).Error; err != nil {
			return err
		}
		return tx.Delete(&batchRow{}, "id IN ?", stale).Error
	})
	if err != nil {
		return fmt.Errorf("%w: pruning: %v", ErrPersistence, err)
	}
	return nil
}

// Get loads a full snapshot. Entries come back in saved order.
func (s *Store) Get(ctx context.Context, batchID string) (*Snapshot, error) {
	var row batchRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, batchID)
		}
		return nil, fmt.Errorf("%w: loading %s: %v", ErrPersistence, batchID, err)
	}

	snap := &Snapshot{Meta: rowToMeta(&row)}

	var entryRows []entryRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&entryRows, "batch_id = ?", batchID).Error; err != nil {
		return nil, fmt.Errorf("%w: loading entries for %s: %v", ErrPersistence, batchID, err)
	}
	for _, er := range entryRows {
		var e models.BatchEntry
		if err := json.Unmarshal(er.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: decoding entry %d of %s: %v", ErrPersistence, er.Seq, batchID, err)
		}
		snap.Entries = append(snap.Entries, &e)
	}

	var logRows []logRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&logRows, "batch_id = ?", batchID).Error; err != nil {
		return nil, fmt.Errorf("%w: loading logs for %s: %v", ErrPersistence, batchID, err)
	}
	for _, lr := range logRows {
		var l models.LogWaveRecord
		if err := json.Unmarshal(lr.Data, &l); err != nil {
			return nil, fmt.Errorf("%w: decoding log %d of %s: %v", ErrPersistence, lr.Seq, batchID, err)
		}
		snap.Logs = append(snap.Logs, &l)
	}
	return snap, nil
}

// ListBatches returns batch metas sorted by updatedAt descending. When
// includeDownloaded is false, batches already marked downloaded are
// filtered out.
func (s *Store) ListBatches(ctx context.Context, includeDownloaded bool) ([]*models.BatchMeta, error) {
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if !includeDownloaded {
		q = q.Where("downloaded = ?", false)
	}
	var rows []batchRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: listing batches: %v", ErrPersistence, err)
	}
	metas := make([]*models.BatchMeta, 0, len(rows))
	for i := range rows {
		metas = append(metas, rowToMeta(&rows[i]))
	}
	return metas, nil
}

// ListHistory returns finished batches (anything not in_progress), sorted
// by updatedAt descending.
func (s *Store) ListHistory(ctx context.Context) ([]*models.BatchMeta, error) {
	var rows []batchRow
	err := s.db.WithContext(ctx).
		Where("status <> ?", string(models.StatusInProgress)).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: listing history: %v", ErrPersistence, err)
	}
	metas := make([]*models.BatchMeta, 0, len(rows))
	for i := range rows {
		metas = append(metas, rowToMeta(&rows[i]))
	}
	return metas, nil
}

// MarkStatus sets a batch's status.
func (s *Store) MarkStatus(ctx context.Context, batchID string, status models.BatchStatus) error {
	return s.updateBatch(ctx, batchID, map[string]any{"status": string(status)})
}

// MarkDownloaded flags a batch as downloaded.
func (s *Store) MarkDownloaded(ctx context.Context, batchID string) error {
	return s.updateBatch(ctx, batchID, map[string]any{"downloaded": true})
}

func (s *Store) updateBatch(ctx context.Context, batchID string, fields map[string]any) error {
	fields["updated_at"] = s.now()
	res := s.db.WithContext(ctx).Model(&batchRow{}).Where("id = ?", batchID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("%w: updating %s: %v", ErrPersistence, batchID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, batchID)
	}
	return nil
}

// Remove deletes a batch and everything stored with it.
func (s *Store) Remove(ctx context.Context, batchID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&entryRow{}, "batch_id = ?", batchID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&logRow{}, "batch_id = ?", batchID).Error; err != nil {
			return err
		}
		return tx.Delete(&batchRow{}, "id = ?", batchID).Error
	})
	if err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrPersistence, batchID, err)
	}
	return nil
}

func rowToMeta(row *batchRow) *models.BatchMeta {
	return &models.BatchMeta{
		BatchID:             row.ID,
		Tenant:              row.Tenant,
		Channel:             row.Channel,
		ChannelKey:          row.ChannelKey,
		Status:              models.BatchStatus(row.Status),
		Partial:             row.Partial,
		Downloaded:          row.Downloaded,
		Total:               row.Total,
		Completed:           row.Completed,
		UnresolvedCount:     row.UnresolvedCount,
		LastError:           row.LastError,
		FirstSentAt:         row.FirstSentAt,
		LastResponseAt:      row.LastResponseAt,
		LastValidReceivedAt: row.LastValidReceivedAt,
		DurationMs:          row.DurationMs,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/fixlimit/internal/common"
	"github.com/ternarybob/fixlimit/internal/interfaces"
	"github.com/ternarybob/fixlimit/internal/models"
)

// PatchStorage implements the PatchHistoryStorage interface for Badger
type PatchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPatchStorage creates a new PatchStorage instance
func NewPatchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PatchHistoryStorage {
	return &PatchStorage{
		db:     db,
		logger: logger,
	}
}

// SavePatch stores a record, filling ID and PatchedAt when unset
func (s *PatchStorage) SavePatch(ctx context.Context, record *models.PatchRecord) error {
	if record.ID == "" {
		record.ID = common.NewPatchID()
	}
	if record.PatchedAt.IsZero() {
		record.PatchedAt = time.Now()
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save patch record: %w", err)
	}

	s.logger.Debug().
		Str("id", record.ID).
		Str("run_id", record.RunID).
		Str("limit", record.Limit).
		Msg("Saved patch record")
	return nil
}

// ListPatches returns all records, oldest first
func (s *PatchStorage) ListPatches(ctx context.Context) ([]models.PatchRecord, error) {
	var records []models.PatchRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list patch records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PatchedAt.Before(records[j].PatchedAt)
	})
	return records, nil
}

// ListPatchesByRun returns the records of one run ordered by iteration
func (s *PatchStorage) ListPatchesByRun(ctx context.Context, runID string) ([]models.PatchRecord, error) {
	var records []models.PatchRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return nil, fmt.Errorf("failed to list patch records for run %s: %w", runID, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Iteration < records[j].Iteration
	})
	return records, nil
}

// Close closes the underlying database
func (s *PatchStorage) Close() error {
	return s.db.Close()
}

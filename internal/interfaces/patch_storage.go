package interfaces

import (
	"context"

	"github.com/ternarybob/fixlimit/internal/models"
)

// PatchHistoryStorage persists applied directive patches
type PatchHistoryStorage interface {
	// SavePatch stores a patch record, assigning an ID when empty
	SavePatch(ctx context.Context, record *models.PatchRecord) error

	// ListPatches returns all records ordered by PatchedAt ascending
	ListPatches(ctx context.Context) ([]models.PatchRecord, error)

	// ListPatchesByRun returns the records of one run ordered by Iteration
	ListPatchesByRun(ctx context.Context, runID string) ([]models.PatchRecord, error)

	Close() error
}

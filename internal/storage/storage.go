// Package storage persists the refresh-run log and scheduler snapshots.
package storage

import (
	"context"
	"time"

	"esg_news/internal/model"
)

// Snapshot is a persisted scheduler-tier entry used to warm the cache on start.
type Snapshot struct {
	SubjectID string
	Entry     model.CacheEntry
}

// Storage is the interface for all persistence operations.
type Storage interface {
	RecordRun(ctx context.Context, run *model.RefreshRun) error
	ListRuns(ctx context.Context, subjectID string, limit int) ([]model.RefreshRun, error)

	SaveSnapshot(ctx context.Context, subjectID string, entry model.CacheEntry) error
	LoadSnapshots(ctx context.Context, now time.Time) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, subjectKey string) error

	Close() error
}

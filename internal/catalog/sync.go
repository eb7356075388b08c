package catalog

import (
	"context"
	"time"

	"utiles/internal/config"
	"utiles/internal/logger"
	"utiles/internal/storage"
)

const lastSyncKey = "catalog.last_sync"

type SyncService struct {
	db     *storage.DB
	client *Client
	log    *logger.Logger
}

func NewSyncService(db *storage.DB, cfg config.Config, log *logger.Logger) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg), log: log}
}

// Sync copies the CMS course collection into the local store.
func (s *SyncService) Sync(ctx context.Context) (int, error) {
	start := time.Now()
	records, err := s.client.ListCourses(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.db.UpsertCatalogCourses(records); err != nil {
		return 0, err
	}
	if err := s.db.SetMetadata(lastSyncKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("catalog sync metadata not saved", "error", err)
	}
	s.log.Info("catalog sync done", "courses", len(records), "elapsed_ms", time.Since(start).Milliseconds())
	return len(records), nil
}

// LastSync returns the time of the last successful sync, or zero when unknown.
func (s *SyncService) LastSync() time.Time {
	value, err := s.db.GetMetadata(lastSyncKey)
	if err != nil || value == nil {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/feed"
	"go.uber.org/zap"
)

// Store is the persistence needed by the ingestor
type Store interface {
	ListMappings(ctx context.Context, systemID int64) ([]db.Mapping, error)
	LatestReadingTime(ctx context.Context, systemID int64) (time.Time, bool, error)
	InsertReadings(ctx context.Context, readings []db.Reading) error
}

// Epoch is the watermark of a system that has no readings yet
var Epoch = time.Unix(0, 0).UTC()

// Result summarizes one ingestion run for a system
type Result struct {
	Watermark  time.Time
	Fetched    int
	NewEntries int
	Skipped    int
	Readings   []db.Reading
	Mapper     Mapper
}

// Watermark returns the newest stored reading timestamp of a system, or Epoch
func Watermark(ctx context.Context, store Store, systemID int64) (time.Time, error) {
	ts, ok, err := store.LatestReadingTime(ctx, systemID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute watermark: %w", err)
	}
	if !ok {
		return Epoch, nil
	}
	return ts, nil
}

// FilterNew keeps entries created strictly after the watermark
func FilterNew(entries []feed.Entry, watermark time.Time) []feed.Entry {
	var fresh []feed.Entry
	for _, e := range entries {
		if e.CreatedAt.After(watermark) {
			fresh = append(fresh, e)
		}
	}
	return fresh
}

// Ingestor turns fetched feed entries into persisted readings
type Ingestor struct {
	logger *zap.Logger
}

// NewIngestor creates a new ingestor
func NewIngestor(logger *zap.Logger) *Ingestor {
	return &Ingestor{logger: logger}
}

// Ingest persists readings for every entry newer than the system's watermark.
// Re-running it over the same feed window inserts nothing.
func (i *Ingestor) Ingest(ctx context.Context, store Store, systemID int64, entries []feed.Entry, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = i.logger
	}
	result := Result{Fetched: len(entries)}

	if len(entries) == 0 {
		logger.Debug("feed returned no entries")
		return result, nil
	}

	watermark, err := Watermark(ctx, store, systemID)
	if err != nil {
		return result, err
	}
	result.Watermark = watermark

	fresh := FilterNew(entries, watermark)
	result.NewEntries = len(fresh)
	if len(fresh) == 0 {
		logger.Info("channel already synchronized", zap.Time("watermark", watermark))
		return result, nil
	}

	mappings, err := store.ListMappings(ctx, systemID)
	if err != nil {
		return result, fmt.Errorf("failed to load mappings: %w", err)
	}
	result.Mapper = NewMapper(mappings)

	for _, entry := range fresh {
		readings, skipped := result.Mapper.Readings(entry)
		result.Skipped += skipped
		result.Readings = append(result.Readings, readings...)
	}

	if err := store.InsertReadings(ctx, result.Readings); err != nil {
		return result, fmt.Errorf("failed to persist readings: %w", err)
	}

	logger.Info("new readings saved",
		zap.Int("new_entries", result.NewEntries),
		zap.Int("readings", len(result.Readings)),
		zap.Int("skipped_fields", result.Skipped),
		zap.Time("previous_watermark", watermark),
	)

	return result, nil
}

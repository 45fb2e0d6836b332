package repository

import (
	"context"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
)

// Session is a store handle bound to one pooled connection.
// A session is acquired once per sync run and must be released on every exit path.
type Session interface {
	// ListSyncableSystems returns systems with both a channel id and a read key configured
	ListSyncableSystems(ctx context.Context) ([]db.System, error)
	ListMappings(ctx context.Context, systemID int64) ([]db.Mapping, error)
	// FindMapping returns nil when the system has no mapping of that kind
	FindMapping(ctx context.Context, systemID int64, kind string) (*db.Mapping, error)
	// LatestReadingTime returns the newest reading timestamp of a system; ok is false when it has none
	LatestReadingTime(ctx context.Context, systemID int64) (ts time.Time, ok bool, err error)
	// InsertReadings persists all readings atomically
	InsertReadings(ctx context.Context, readings []db.Reading) error
	ReadingValuesSince(ctx context.Context, mappingID int64, since time.Time) ([]float64, error)
	// LatestReading returns nil when the mapping has no readings
	LatestReading(ctx context.Context, mappingID int64) (*db.Reading, error)
	AppendETEstimate(ctx context.Context, estimate db.ETEstimate) error
	// ReplaceETEstimate deletes every prior estimate of the system and inserts the new one in a single transaction
	ReplaceETEstimate(ctx context.Context, estimate db.ETEstimate) error
	CultureParameter(ctx context.Context, cultureID int64, name string) (value float64, ok bool, err error)
	// ApplyDecision stores the command and, when given, its audit event in one transaction
	ApplyDecision(ctx context.Context, systemID int64, cmd db.Command, event *db.Event) error
	Release()
}

// Provider hands out sessions backed by a connection pool
type Provider interface {
	Acquire(ctx context.Context) (Session, error)
}

package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/feed"
	"github.com/septivank/irrigation-sync-worker/internal/ingest"
	"github.com/septivank/irrigation-sync-worker/internal/repository"
	"go.uber.org/zap"
)

type fixture struct {
	store    *repository.MemoryStore
	session  repository.Session
	system   db.System
	temp     db.Mapping
	moisture db.Mapping
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	sys := store.AddSystem(db.System{Name: "Horta", ChannelID: "1001", ReadAPIKey: "K"})
	temp := store.AddMapping(db.Mapping{SystemID: sys.ID, FieldNumber: 1, Kind: db.KindAirTemperature})
	moisture := store.AddMapping(db.Mapping{SystemID: sys.ID, FieldNumber: 2, Kind: db.KindSoilMoisture})

	session, err := store.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(session.Release)

	return fixture{store: store, session: session, system: sys, temp: temp, moisture: moisture}
}

func at(minute int) time.Time {
	return time.Date(2025, 3, 10, 12, minute, 0, 0, time.UTC)
}

func sampleFeed() []feed.Entry {
	return []feed.Entry{
		feed.NewEntry(at(0), map[int]string{1: "24.0", 2: "31.5"}),
		feed.NewEntry(at(5), map[int]string{1: "25.0", 2: "0"}),
		feed.NewEntry(at(10), map[int]string{1: "n/a"}),
	}
}

func TestIngest_PersistsParsedFields(t *testing.T) {
	f := newFixture(t)
	ing := ingest.NewIngestor(zap.NewNop())

	res, err := ing.Ingest(context.Background(), f.session, f.system.ID, sampleFeed(), nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !res.Watermark.Equal(ingest.Epoch) {
		t.Errorf("expected epoch watermark for empty store, got %v", res.Watermark)
	}
	if res.NewEntries != 3 {
		t.Errorf("expected 3 new entries, got %d", res.NewEntries)
	}
	if len(res.Readings) != 4 {
		t.Errorf("expected 4 readings, got %d", len(res.Readings))
	}
	// entry 3: field1 malformed, field2 absent
	if res.Skipped != 2 {
		t.Errorf("expected 2 skipped fields, got %d", res.Skipped)
	}

	moisture := f.store.Readings(f.moisture.ID)
	if len(moisture) != 2 || moisture[1].Value != 0 {
		t.Fatalf("expected zero moisture to be stored as a reading, got %+v", moisture)
	}
}

func TestIngest_IsIdempotentForUnchangedFeed(t *testing.T) {
	f := newFixture(t)
	ing := ingest.NewIngestor(zap.NewNop())

	if _, err := ing.Ingest(context.Background(), f.session, f.system.ID, sampleFeed(), nil); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	before := len(f.store.Readings(f.temp.ID)) + len(f.store.Readings(f.moisture.ID))

	res, err := ing.Ingest(context.Background(), f.session, f.system.ID, sampleFeed(), nil)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	// the entry at :10 carries no usable field, so it stays above the watermark but yields nothing
	if len(res.Readings) != 0 {
		t.Errorf("expected no readings on second run, got %d", len(res.Readings))
	}

	after := len(f.store.Readings(f.temp.ID)) + len(f.store.Readings(f.moisture.ID))
	if before != after {
		t.Errorf("reading count changed from %d to %d", before, after)
	}
}

func TestIngest_OverlappingWindowOnlyAddsNewer(t *testing.T) {
	f := newFixture(t)
	ing := ingest.NewIngestor(zap.NewNop())

	first := sampleFeed()[:2]
	if _, err := ing.Ingest(context.Background(), f.session, f.system.ID, first, nil); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	overlap := append(sampleFeed(), feed.NewEntry(at(15), map[int]string{1: "26.0", 2: "29.0"}))
	res, err := ing.Ingest(context.Background(), f.session, f.system.ID, overlap, nil)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if !res.Watermark.Equal(at(5)) {
		t.Errorf("expected watermark %v, got %v", at(5), res.Watermark)
	}
	for _, r := range res.Readings {
		if !r.Timestamp.After(at(5)) {
			t.Errorf("reading at %v is not newer than the watermark", r.Timestamp)
		}
	}
	if len(res.Readings) != 2 {
		t.Errorf("expected 2 readings from the entry at :15, got %d", len(res.Readings))
	}
}

func TestIngest_WatermarkNeverDecreases(t *testing.T) {
	f := newFixture(t)
	ing := ingest.NewIngestor(zap.NewNop())

	if _, err := ing.Ingest(context.Background(), f.session, f.system.ID, sampleFeed(), nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	high, err := ingest.Watermark(context.Background(), f.session, f.system.ID)
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}

	older := []feed.Entry{feed.NewEntry(at(1), map[int]string{1: "10"})}
	if _, err := ing.Ingest(context.Background(), f.session, f.system.ID, older, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	now, err := ingest.Watermark(context.Background(), f.session, f.system.ID)
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if now.Before(high) {
		t.Errorf("watermark went back from %v to %v", high, now)
	}
}

func TestIngest_StorageFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	ing := ingest.NewIngestor(zap.NewNop())

	f.store.Fail = func(op string) error {
		if op == "InsertReadings" {
			return errors.New("write failed")
		}
		return nil
	}

	if _, err := ing.Ingest(context.Background(), f.session, f.system.ID, sampleFeed(), nil); err == nil {
		t.Fatal("expected storage error")
	}
	if n := len(f.store.Readings(f.temp.ID)); n != 0 {
		t.Errorf("expected no readings after failed insert, got %d", n)
	}
}

func TestFilterNew_StrictlyAfter(t *testing.T) {
	entries := sampleFeed()

	got := ingest.FilterNew(entries, at(5))
	if len(got) != 1 || !got[0].CreatedAt.Equal(at(10)) {
		t.Fatalf("expected only the entry at :10, got %+v", got)
	}
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
)

// MemoryStore is an in-process store with the same semantics as the SQL backends.
// It backs local dry runs (DATABASE_DRIVER=memory) and the package tests.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	systems   []db.System
	mappings  []db.Mapping
	readings  []db.Reading
	estimates []db.ETEstimate
	params    map[memParamKey]float64
	events    []db.Event

	acquired int
	released int

	// AcquireErr, when set, is returned by Acquire
	AcquireErr error
	// Fail, when set, is consulted before every operation; a non-nil error aborts it
	Fail func(op string) error
}

type memParamKey struct {
	cultureID int64
	name      string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{params: make(map[memParamKey]float64)}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddSystem registers a system. A zero ID is assigned automatically.
func (m *MemoryStore) AddSystem(s db.System) db.System {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	if s.CurrentCommand == "" {
		s.CurrentCommand = db.CommandOff
	}
	m.systems = append(m.systems, s)
	return s
}

// AddMapping registers a field mapping
func (m *MemoryStore) AddMapping(mapping db.Mapping) db.Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mapping.ID == 0 {
		mapping.ID = m.id()
	}
	m.mappings = append(m.mappings, mapping)
	return mapping
}

// AddReading stores a reading directly, bypassing the watermark filter
func (m *MemoryStore) AddReading(r db.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.Timestamp = r.Timestamp.UTC()
	m.readings = append(m.readings, r)
}

// SetCultureParameter stores a culture parameter value
func (m *MemoryStore) SetCultureParameter(cultureID int64, name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[memParamKey{cultureID: cultureID, name: name}] = value
}

// System returns a copy of the stored system
func (m *MemoryStore) System(id int64) (db.System, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.systems {
		if s.ID == id {
			return s, true
		}
	}
	return db.System{}, false
}

// Readings returns a copy of the readings of one mapping, oldest first
func (m *MemoryStore) Readings(mappingID int64) []db.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Reading
	for _, r := range m.readings {
		if r.MappingID == mappingID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Estimates returns a copy of the ET estimates of a system
func (m *MemoryStore) Estimates(systemID int64) []db.ETEstimate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.ETEstimate
	for _, e := range m.estimates {
		if e.SystemID == systemID {
			out = append(out, e)
		}
	}
	return out
}

// Events returns a copy of the events of a system
func (m *MemoryStore) Events(systemID int64) []db.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Event
	for _, e := range m.events {
		if e.SystemID == systemID {
			out = append(out, e)
		}
	}
	return out
}

// Sessions returns how many sessions were acquired and released
func (m *MemoryStore) Sessions() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

// Acquire hands out a session over the store
func (m *MemoryStore) Acquire(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.acquired++
	return &memSession{store: m}, nil
}

type memSession struct {
	store    *MemoryStore
	released bool
}

// check must be called with the store lock held
func (s *memSession) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.store.Fail != nil {
		return s.store.Fail(op)
	}
	return nil
}

func (s *memSession) Release() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if !s.released {
		s.released = true
		s.store.released++
	}
}

func (s *memSession) ListSyncableSystems(ctx context.Context) ([]db.System, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "ListSyncableSystems"); err != nil {
		return nil, err
	}
	var out []db.System
	for _, sys := range m.systems {
		if sys.ChannelID != "" && sys.ReadAPIKey != "" {
			out = append(out, sys)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memSession) ListMappings(ctx context.Context, systemID int64) ([]db.Mapping, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "ListMappings"); err != nil {
		return nil, err
	}
	var out []db.Mapping
	for _, mapping := range m.mappings {
		if mapping.SystemID == systemID {
			out = append(out, mapping)
		}
	}
	return out, nil
}

func (s *memSession) FindMapping(ctx context.Context, systemID int64, kind string) (*db.Mapping, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "FindMapping"); err != nil {
		return nil, err
	}
	for _, mapping := range m.mappings {
		if mapping.SystemID == systemID && mapping.Kind == kind {
			found := mapping
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memSession) LatestReadingTime(ctx context.Context, systemID int64) (time.Time, bool, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "LatestReadingTime"); err != nil {
		return time.Time{}, false, err
	}
	owned := make(map[int64]bool)
	for _, mapping := range m.mappings {
		if mapping.SystemID == systemID {
			owned[mapping.ID] = true
		}
	}
	var latest time.Time
	found := false
	for _, r := range m.readings {
		if owned[r.MappingID] && (!found || r.Timestamp.After(latest)) {
			latest = r.Timestamp
			found = true
		}
	}
	return latest, found, nil
}

func (s *memSession) InsertReadings(ctx context.Context, readings []db.Reading) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(readings) == 0 {
		return nil
	}
	if err := s.check(ctx, "InsertReadings"); err != nil {
		return err
	}
	for _, r := range readings {
		r.ID = m.id()
		r.Timestamp = r.Timestamp.UTC()
		m.readings = append(m.readings, r)
	}
	return nil
}

func (s *memSession) ReadingValuesSince(ctx context.Context, mappingID int64, since time.Time) ([]float64, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "ReadingValuesSince"); err != nil {
		return nil, err
	}
	var values []float64
	for _, r := range m.readings {
		if r.MappingID == mappingID && !r.Timestamp.Before(since) {
			values = append(values, r.Value)
		}
	}
	return values, nil
}

func (s *memSession) LatestReading(ctx context.Context, mappingID int64) (*db.Reading, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "LatestReading"); err != nil {
		return nil, err
	}
	var latest *db.Reading
	for i := range m.readings {
		r := m.readings[i]
		if r.MappingID == mappingID && (latest == nil || r.Timestamp.After(latest.Timestamp)) {
			latest = &r
		}
	}
	return latest, nil
}

func (s *memSession) AppendETEstimate(ctx context.Context, estimate db.ETEstimate) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "AppendETEstimate"); err != nil {
		return err
	}
	estimate.ID = m.id()
	m.estimates = append(m.estimates, estimate)
	return nil
}

func (s *memSession) ReplaceETEstimate(ctx context.Context, estimate db.ETEstimate) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "ReplaceETEstimate"); err != nil {
		return err
	}
	kept := m.estimates[:0]
	for _, e := range m.estimates {
		if e.SystemID != estimate.SystemID {
			kept = append(kept, e)
		}
	}
	estimate.ID = m.id()
	m.estimates = append(kept, estimate)
	return nil
}

func (s *memSession) CultureParameter(ctx context.Context, cultureID int64, name string) (float64, bool, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "CultureParameter"); err != nil {
		return 0, false, err
	}
	v, ok := m.params[memParamKey{cultureID: cultureID, name: name}]
	return v, ok, nil
}

// ApplyDecision fails as a whole when either write is rejected, leaving the command untouched
func (s *memSession) ApplyDecision(ctx context.Context, systemID int64, cmd db.Command, event *db.Event) error {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.check(ctx, "SetCommand"); err != nil {
		return err
	}
	if event != nil {
		if err := s.check(ctx, "AppendEvent"); err != nil {
			return err
		}
	}
	for i := range m.systems {
		if m.systems[i].ID == systemID {
			m.systems[i].CurrentCommand = cmd
		}
	}
	if event != nil {
		e := *event
		e.ID = m.id()
		m.events = append(m.events, e)
	}
	return nil
}

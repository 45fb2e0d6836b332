package ingest

import (
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/feed"
	"github.com/septivank/irrigation-sync-worker/internal/validator"
)

// Mapper resolves feed fields to reading kinds for one system
type Mapper struct {
	mappings []db.Mapping
}

// NewMapper creates a mapper over a system's configured mappings
func NewMapper(mappings []db.Mapping) Mapper {
	return Mapper{mappings: mappings}
}

// Len returns the number of configured mappings
func (m Mapper) Len() int {
	return len(m.mappings)
}

// ByKind returns the mapping configured for a reading kind
func (m Mapper) ByKind(kind string) (db.Mapping, bool) {
	for _, mapping := range m.mappings {
		if mapping.Kind == kind {
			return mapping, true
		}
	}
	return db.Mapping{}, false
}

// ByID returns the mapping with the given id
func (m Mapper) ByID(id int64) (db.Mapping, bool) {
	for _, mapping := range m.mappings {
		if mapping.ID == id {
			return mapping, true
		}
	}
	return db.Mapping{}, false
}

// Readings converts one feed entry into readings, one per mapping whose field holds a finite number.
// Missing or malformed fields are counted in skipped and otherwise ignored.
func (m Mapper) Readings(entry feed.Entry) (readings []db.Reading, skipped int) {
	for _, mapping := range m.mappings {
		res := validator.ParseFieldValue(entry.Field(mapping.FieldNumber))
		if !res.Ok() {
			skipped++
			continue
		}
		readings = append(readings, db.Reading{
			MappingID: mapping.ID,
			Value:     res.Value,
			Timestamp: entry.CreatedAt,
		})
	}
	return readings, skipped
}

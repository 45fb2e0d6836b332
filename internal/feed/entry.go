package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/irrigation-sync-worker/tools/timeparser"
)

// Entry is one row of a channel feed: a timestamp and the numbered field values present in it
type Entry struct {
	EntryID   int64
	CreatedAt time.Time
	fields    map[int]string
}

// NewEntry builds an entry from explicit field values
func NewEntry(createdAt time.Time, fields map[int]string) Entry {
	return Entry{CreatedAt: createdAt.UTC(), fields: fields}
}

// Field returns the raw value of fieldN, or nil when the field is absent or null
func (e Entry) Field(n int) *string {
	v, ok := e.fields[n]
	if !ok {
		return nil
	}
	return &v
}

// UnmarshalJSON decodes a feed entry. Field values may be strings, numbers or null.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	createdRaw, ok := raw["created_at"]
	if !ok {
		return fmt.Errorf("feed entry without created_at")
	}
	var created string
	if err := json.Unmarshal(createdRaw, &created); err != nil {
		return fmt.Errorf("invalid created_at: %w", err)
	}
	createdAt, err := timeparser.ParseFeedTimestamp(created)
	if err != nil {
		return err
	}

	entry := Entry{CreatedAt: createdAt, fields: make(map[int]string)}

	if idRaw, ok := raw["entry_id"]; ok {
		_ = json.Unmarshal(idRaw, &entry.EntryID)
	}

	for key, value := range raw {
		if !strings.HasPrefix(key, "field") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, "field"))
		if err != nil {
			continue
		}

		value = bytes.TrimSpace(value)
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			continue
		}

		if value[0] == '"' {
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				continue
			}
			entry.fields[n] = s
			continue
		}

		// numbers and other literals are kept verbatim for the parse-or-skip policy
		entry.fields[n] = string(value)
	}

	*e = entry
	return nil
}

// Response is the feeds.json payload. Entries are decoded one by one so a malformed row drops only itself.
type Response struct {
	Feeds []json.RawMessage `json:"feeds"`
}

// Entries decodes the feed rows, returning the valid ones and the decode error of each skipped row
func (r Response) Entries() ([]Entry, []error) {
	entries := make([]Entry, 0, len(r.Feeds))
	var errs []error
	for i, raw := range r.Feeds {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

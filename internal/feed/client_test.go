package feed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/feed"
	"github.com/sony/gobreaker"
)

const samplePayload = `{
  "channel": {"id": 1001, "name": "horta"},
  "feeds": [
    {"created_at": "2025-03-10T12:00:00Z", "entry_id": 1, "field1": "24.5", "field2": "0", "field3": null},
    {"created_at": "2025-03-10T12:05:00Z", "entry_id": 2, "field1": 25, "field2": "abc"}
  ]
}`

func TestFetch_DecodesEntries(t *testing.T) {
	var gotPath, gotKey, gotResults string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		gotResults = r.URL.Query().Get("results")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := feed.NewClient(feed.ClientConfig{BaseURL: srv.URL, Timeout: time.Second})

	entries, err := client.Fetch(context.Background(), "1001", "READKEY")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotPath != "/channels/1001/feeds.json" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotKey != "READKEY" || gotResults != "100" {
		t.Errorf("unexpected query api_key=%s results=%s", gotKey, gotResults)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if !first.CreatedAt.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created_at %v", first.CreatedAt)
	}
	if v := first.Field(1); v == nil || *v != "24.5" {
		t.Errorf("expected field1 24.5, got %v", v)
	}
	if v := first.Field(2); v == nil || *v != "0" {
		t.Errorf("expected field2 to be present as 0, got %v", v)
	}
	if first.Field(3) != nil {
		t.Error("expected null field3 to be absent")
	}
	if first.Field(4) != nil {
		t.Error("expected missing field4 to be absent")
	}

	if v := entries[1].Field(1); v == nil || *v != "25" {
		t.Errorf("expected numeric field1 kept as 25, got %v", v)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := feed.NewClient(feed.ClientConfig{BaseURL: srv.URL, Timeout: time.Second, BreakerFailures: 5})

	_, err := client.Fetch(context.Background(), "1001", "WRONG")
	if err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestFetch_BreakerOpensPerChannel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/channels/dead/feeds.json" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"feeds": []}`))
	}))
	defer srv.Close()

	client := feed.NewClient(feed.ClientConfig{
		BaseURL:            srv.URL,
		Timeout:            time.Second,
		BreakerFailures:    2,
		BreakerOpenTimeout: time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := client.Fetch(context.Background(), "dead", "k"); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := client.Fetch(context.Background(), "dead", "k")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 outbound calls, got %d", n)
	}

	if _, err := client.Fetch(context.Background(), "alive", "k"); err != nil {
		t.Fatalf("healthy channel should not be affected: %v", err)
	}
}

func TestFetch_MalformedEntryIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feeds": [
			{"created_at": "2025-03-10T12:00:00Z", "field1": "20.5"},
			{"created_at": "garbage", "field1": "21.0"},
			{"field1": "21.5"},
			{"created_at": "2025-03-10T12:10:00Z", "field1": "22.0"}
		]}`))
	}))
	defer srv.Close()

	client := feed.NewClient(feed.ClientConfig{BaseURL: srv.URL, Timeout: time.Second, BreakerFailures: 1})

	for i := 0; i < 3; i++ {
		entries, err := client.Fetch(context.Background(), "1", "k")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected the 2 valid entries, got %d", len(entries))
		}
		if v := entries[1].Field(1); v == nil || *v != "22.0" {
			t.Errorf("expected last valid entry kept, got %v", v)
		}
	}
}

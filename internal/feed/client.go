package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultResults is the number of most recent entries requested per fetch
const DefaultResults = 100

// ClientConfig holds feed client settings
type ClientConfig struct {
	BaseURL            string
	Results            int
	Timeout            time.Duration
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
	HTTPClient         *http.Client
	Logger             *zap.Logger
}

// Client fetches channel feeds from the telemetry service.
// Every channel gets its own circuit breaker so a dead channel does not slow down the others.
type Client struct {
	baseURL     string
	results     int
	httpClient  *http.Client
	failures    int
	openTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a new feed client
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	results := cfg.Results
	if results <= 0 || results > DefaultResults {
		results = DefaultResults
	}
	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		results:     results,
		httpClient:  httpClient,
		failures:    failures,
		openTimeout: cfg.BreakerOpenTimeout,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Fetch returns up to the configured number of most recent entries of a channel.
// It never retries; a failed fetch is simply reported to the caller.
func (c *Client) Fetch(ctx context.Context, channelID, readKey string) ([]Entry, error) {
	cb := c.breaker(channelID)

	out, err := cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, channelID, readKey)
	})
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, err)
	}

	return out.([]Entry), nil
}

func (c *Client) fetch(ctx context.Context, channelID, readKey string) ([]Entry, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/feeds.json", c.baseURL, url.PathEscape(channelID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("api_key", readKey)
	q.Set("results", strconv.Itoa(c.results))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	entries, skipped := out.Entries()
	for _, err := range skipped {
		c.logger.Warn("skipping malformed feed entry", zap.String("channel", channelID), zap.Error(err))
	}

	return entries, nil
}

func (c *Client) breaker(channelID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[channelID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feed-channel-" + channelID,
		Timeout: c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(c.failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("feed circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	c.breakers[channelID] = cb
	return cb
}

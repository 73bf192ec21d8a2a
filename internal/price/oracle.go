// Package price fetches USD prices from the Birdeye public API with a
// process-wide TTL cache.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"solana-wallet-service/internal/observability"
)

// Defaults.
const (
	DefaultBaseURL    = "https://public-api.birdeye.so"
	DefaultTTL        = 300 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// Tracked maps the symbols the service prices to their Solana mints
// (wrapped for BTC and ETH).
var Tracked = map[string]string{
	"solana":   "So11111111111111111111111111111111111111112",
	"bitcoin":  "3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh",
	"ethereum": "7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs",
}

// Oracle caches Birdeye prices for the tracked tokens. A missing API
// key is not an error: callers get zeroed prices so portfolio reads
// keep working without the upstream.
type Oracle struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *log.Logger
	metrics *observability.Metrics

	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration

	mu        sync.Mutex
	cached    map[string]string
	fetchedAt time.Time

	sf singleflight.Group
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithBaseURL overrides the Birdeye base URL.
func WithBaseURL(url string) OracleOption {
	return func(o *Oracle) {
		o.baseURL = url
	}
}

// WithTTL sets the cache lifetime.
func WithTTL(d time.Duration) OracleOption {
	return func(o *Oracle) {
		o.ttl = d
	}
}

// WithRetry sets retry count and initial delay.
func WithRetry(maxRetries int, delay time.Duration) OracleOption {
	return func(o *Oracle) {
		o.maxRetries = maxRetries
		o.retryDelay = delay
	}
}

// WithLogger sets the oracle's logger.
func WithLogger(l *log.Logger) OracleOption {
	return func(o *Oracle) {
		o.logger = l
	}
}

// WithMetrics attaches metrics.
func WithMetrics(m *observability.Metrics) OracleOption {
	return func(o *Oracle) {
		o.metrics = m
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) OracleOption {
	return func(o *Oracle) {
		o.client = c
	}
}

// NewOracle creates an Oracle. apiKey may be empty.
func NewOracle(apiKey string, opts ...OracleOption) *Oracle {
	o := &Oracle{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     log.New(io.Discard, "", 0),
		ttl:        DefaultTTL,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// zeroed returns a price map with every tracked token at "0".
func zeroed() map[string]string {
	out := make(map[string]string, len(Tracked))
	for symbol := range Tracked {
		out[symbol] = "0"
	}
	return out
}

// Prices returns USD prices for the tracked tokens. Cached values are
// served until the TTL lapses unless forceRefresh is set. Concurrent
// refreshes share one upstream round trip.
func (o *Oracle) Prices(ctx context.Context, forceRefresh bool) (map[string]string, error) {
	if o.apiKey == "" {
		return zeroed(), nil
	}

	if !forceRefresh {
		o.mu.Lock()
		if o.cached != nil && time.Since(o.fetchedAt) < o.ttl {
			out := copyPrices(o.cached)
			o.mu.Unlock()
			if o.metrics != nil {
				o.metrics.PriceCacheReads.WithLabelValues("hit").Inc()
			}
			return out, nil
		}
		o.mu.Unlock()
	}
	if o.metrics != nil {
		o.metrics.PriceCacheReads.WithLabelValues("miss").Inc()
	}

	v, err, _ := o.sf.Do("prices", func() (interface{}, error) {
		return o.fetchAll(ctx)
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.PriceFetchErrors.Inc()
		}
		return nil, err
	}
	return copyPrices(v.(map[string]string)), nil
}

// fetchAll refreshes every tracked token and stores the result. A
// token that fails after retries prices at "0"; the fetch only errors
// when no token could be priced.
func (o *Oracle) fetchAll(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(Tracked))
	var lastErr error
	failures := 0

	for symbol, mint := range Tracked {
		value, err := o.fetchOne(ctx, mint)
		if err != nil {
			o.logger.Printf("price fetch failed symbol=%s: %v", symbol, err)
			out[symbol] = "0"
			failures++
			lastErr = err
			continue
		}
		out[symbol] = strconv.FormatFloat(value, 'f', -1, 64)
	}

	if failures == len(Tracked) {
		return nil, fmt.Errorf("all price fetches failed: %w", lastErr)
	}

	o.mu.Lock()
	o.cached = out
	o.fetchedAt = time.Now()
	o.mu.Unlock()

	return out, nil
}

// fetchOne queries /defi/price for one mint with bounded retries, the
// delay doubling per attempt.
func (o *Oracle) fetchOne(ctx context.Context, mint string) (float64, error) {
	delay := o.retryDelay
	var lastErr error

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		value, err := o.request(ctx, mint)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}

	return 0, fmt.Errorf("after %d attempts: %w", o.maxRetries, lastErr)
}

func (o *Oracle) request(ctx context.Context, mint string) (float64, error) {
	url := fmt.Sprintf("%s/defi/price?address=%s", o.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", o.apiKey)
	req.Header.Set("x-chain", "solana")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Success bool `json:"success"`
		Data    *struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if !parsed.Success || parsed.Data == nil {
		return 0, fmt.Errorf("no price in response")
	}

	return parsed.Data.Value, nil
}

func copyPrices(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

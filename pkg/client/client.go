// Package client fetches ranked market pages from a CoinGecko-style
// /coins/markets endpoint. It implements both fetch capabilities of the
// acquisition pipeline and never retries a failed request.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/cascade-loader/pkg/acquire"
	"github.com/Sternrassler/cascade-loader/pkg/ratelimit"
)

// Prometheus metrics for source requests.
var (
	sourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_source_requests_total",
		Help: "Total source requests by kind and status",
	}, []string{"kind", "status"})

	sourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_source_request_duration_seconds",
		Help:    "Source request duration in seconds by kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	sourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_source_errors_total",
		Help: "Total source errors by class",
	}, []string{"class"})
)

// MarketsPath is the ranked list endpoint below BaseURL.
const MarketsPath = "/coins/markets"

// maxBodyBytes bounds a single response body (250 rows are ~150KB).
const maxBodyBytes = 16 << 20

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://api.coingecko.com/api/v3".
	BaseURL string

	// UserAgent header (required).
	UserAgent string

	// VsCurrency is the quote currency of the market rows.
	VsCurrency string

	// Timeout per request; 0 disables it.
	Timeout time.Duration

	// Redis shares the rate limit budget between processes (optional).
	Redis *redis.Client
}

// DefaultConfig returns a configuration for the public CoinGecko API.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:    "https://api.coingecko.com/api/v3",
		UserAgent:  userAgent,
		VsCurrency: "usd",
		Timeout:    30 * time.Second,
	}
}

// Client is the source client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	endpoint    *url.URL
	config      Config
	logger      zerolog.Logger
}

// New creates a new source client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative (got %v)", cfg.Timeout)
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	endpoint := base.JoinPath(MarketsPath)

	logger := log.With().Str("component", "client").Logger()

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger,
	}, nil
}

// FetchPage fetches one page of the market list ordered by market cap.
func (c *Client) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]acquire.Item, error) {
	query := url.Values{}
	query.Set("vs_currency", c.config.VsCurrency)
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(pageSize))
	query.Set("page", strconv.Itoa(pageIndex))
	query.Set("sparkline", "false")

	return c.get(ctx, "page", query)
}

// FetchByKeys fetches the market rows of the given coin ids.
func (c *Client) FetchByKeys(ctx context.Context, keys []string) ([]acquire.Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("vs_currency", c.config.VsCurrency)
	query.Set("ids", strings.Join(keys, ","))
	query.Set("sparkline", "false")

	return c.get(ctx, "keys", query)
}

// get performs one request: rate limit gate, request, budget update, decode.
func (c *Client) get(ctx context.Context, kind string, query url.Values) ([]acquire.Item, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := *c.endpoint
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("kind", kind).
		Str("query", u.RawQuery).
		Msg("Executing source request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	sourceRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		sourceRequestsTotal.WithLabelValues(kind, "network_error").Inc()
		return nil, &SourceError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	sourceRequestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

	if err := c.rateLimiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		sourceErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("kind", kind).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Source request error")
		return nil, &SourceError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &SourceError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	items, err := DecodeItems(body)
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &SourceError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "malformed payload",
			Err:        err,
		}
	}
	return items, nil
}

// DecodeItems parses a JSON array of records, keeping each record raw and
// extracting its "id".
func DecodeItems(body []byte) ([]acquire.Item, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}

	items := make([]acquire.Item, 0, len(raws))
	for i, raw := range raws {
		var key struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		if key.ID == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
		items = append(items, acquire.Item{ID: key.ID, Raw: raw})
	}
	return items, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the client's rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

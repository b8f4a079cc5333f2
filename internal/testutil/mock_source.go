// Package testutil provides a mock ranked-list source for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MarketsPath is the endpoint served by MockSource.
const MarketsPath = "/coins/markets"

// MockResponse overrides the response for one page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Request is one request seen by the mock.
type Request struct {
	At      time.Time
	Page    int
	PerPage int
	IDs     []string
	Header  http.Header
}

// MockSource is a configurable CoinGecko-style markets endpoint.
// Pages are 1-based slices of a synthetic ranked list "coin-1".."coin-N".
type MockSource struct {
	server *httptest.Server

	mu        sync.RWMutex
	total     int
	overrides map[int]MockResponse
	delay     time.Duration
	headers   map[string]string
	requests  []Request
}

// NewMockSource starts a mock serving a ranked list of total items.
func NewMockSource(total int) *MockSource {
	m := &MockSource{
		total:     total,
		overrides: make(map[int]MockResponse),
		headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
		},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server base URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSource) Close() {
	m.server.Close()
}

// SetPageResponse overrides the response for page. Page 0 overrides the
// keyed (ids=) request.
func (m *MockSource) SetPageResponse(page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[page] = resp
}

// SetDelay delays every response.
func (m *MockSource) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetHeader sets a header sent with every default response.
func (m *MockSource) SetHeader(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[key] = value
}

// Requests returns a copy of the requests seen so far.
func (m *MockSource) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Request(nil), m.requests...)
}

// RequestCount returns the number of requests seen so far.
func (m *MockSource) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (m *MockSource) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != MarketsPath {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	req := Request{At: time.Now(), Header: r.Header.Clone()}
	req.Page, _ = strconv.Atoi(q.Get("page"))
	req.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if ids := q.Get("ids"); ids != "" {
		req.IDs = strings.Split(ids, ",")
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	override, hasOverride := m.overrides[req.Page]
	delay := m.delay
	headers := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		headers[k] = v
	}
	m.mu.Unlock()

	if hasOverride && override.Delay > 0 {
		delay = override.Delay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if hasOverride {
		for k, v := range override.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(override.StatusCode)
		w.Write([]byte(override.Body))
		return
	}

	for k, v := range headers {
		w.Header().Set(k, v)
	}

	var coins []Coin
	if req.IDs != nil {
		for _, id := range req.IDs {
			coins = append(coins, Coin{ID: id, Symbol: id, Name: id})
		}
	} else {
		coins = m.page(req.Page, req.PerPage)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(coins)
}

func (m *MockSource) page(page, perPage int) []Coin {
	coins := []Coin{}
	if page < 1 || perPage < 1 {
		return coins
	}
	for rank := (page-1)*perPage + 1; rank <= page*perPage && rank <= m.total; rank++ {
		coins = append(coins, NewCoin(rank))
	}
	return coins
}

// Coin is a markets row as served by the mock.
type Coin struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"current_price"`
	MarketCapRank int     `json:"market_cap_rank,omitempty"`
}

// NewCoin returns the synthetic coin at rank.
func NewCoin(rank int) Coin {
	return Coin{
		ID:            fmt.Sprintf("coin-%d", rank),
		Symbol:        fmt.Sprintf("c%d", rank),
		Name:          fmt.Sprintf("Coin %d", rank),
		CurrentPrice:  1000 / float64(rank),
		MarketCapRank: rank,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status": {"error_code": 429, "error_message": "You've exceeded the Rate Limit."}}`,
		Headers: map[string]string{
			"Retry-After": strconv.Itoa(retryAfter),
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not a list.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"unexpected": true}`,
	}
}

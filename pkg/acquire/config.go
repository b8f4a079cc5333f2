package acquire

import (
	"strings"
	"time"
)

// FailurePolicy decides whether readers still see the accumulated items of
// a failed run. The pipeline's log is never cleared; the policy is applied
// where the log is presented.
type FailurePolicy string

const (
	// PreserveOnFailure keeps the items for partial display.
	PreserveOnFailure FailurePolicy = "preserve"

	// ClearOnFailure hides the items of a failed run.
	ClearOnFailure FailurePolicy = "clear"
)

// Config holds the acquisition run configuration.
type Config struct {
	// PageCount is the number of pages to fetch (pages are numbered from 1).
	PageCount int

	// ItemsPerPage is the requested page size.
	ItemsPerPage int

	// MinInterval is the minimum gap between the starts of consecutive requests.
	MinInterval time.Duration

	// SupplementalKeys are fetched once after paging completes.
	// Duplicates are dropped, first occurrence wins.
	SupplementalKeys []string

	// MaxConcurrency > 1 fetches pages in concurrent batches of that size.
	MaxConcurrency int

	// FailurePolicy defaults to PreserveOnFailure.
	FailurePolicy FailurePolicy
}

// DefaultConfig returns the configuration of the reference deployment:
// the top 3000 coins in 12 pages of 250, one request every 12 seconds.
func DefaultConfig() Config {
	return Config{
		PageCount:      12,
		ItemsPerPage:   250,
		MinInterval:    12 * time.Second,
		MaxConcurrency: 1,
		FailurePolicy:  PreserveOnFailure,
	}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.PageCount <= 0 {
		return &ConfigError{Field: "page_count", Reason: "must be positive"}
	}
	if c.ItemsPerPage <= 0 {
		return &ConfigError{Field: "items_per_page", Reason: "must be positive"}
	}
	if c.MinInterval < 0 {
		return &ConfigError{Field: "min_interval", Reason: "must not be negative"}
	}
	if c.MaxConcurrency < 0 {
		return &ConfigError{Field: "max_concurrency", Reason: "must not be negative"}
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 1
	}

	switch c.FailurePolicy {
	case "":
		c.FailurePolicy = PreserveOnFailure
	case PreserveOnFailure, ClearOnFailure:
	default:
		return &ConfigError{Field: "failure_policy", Reason: "must be preserve or clear"}
	}

	for _, key := range c.SupplementalKeys {
		if strings.TrimSpace(key) == "" {
			return &ConfigError{Field: "supplemental_keys", Reason: "must not contain empty keys"}
		}
	}
	return nil
}

// PageDescriptor identifies one planned page request.
type PageDescriptor struct {
	Index int
	Size  int
}

// Plan is the static shape of one acquisition run.
type Plan struct {
	pages []PageDescriptor
	keys  []string
}

// NewPlan builds the page plan for a validated configuration.
func NewPlan(cfg Config) Plan {
	pages := make([]PageDescriptor, cfg.PageCount)
	for i := range pages {
		pages[i] = PageDescriptor{Index: i + 1, Size: cfg.ItemsPerPage}
	}

	seen := make(map[string]struct{}, len(cfg.SupplementalKeys))
	keys := make([]string, 0, len(cfg.SupplementalKeys))
	for _, key := range cfg.SupplementalKeys {
		key = strings.TrimSpace(key)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return Plan{pages: pages, keys: keys}
}

// Pages returns the planned pages in request order.
func (p Plan) Pages() []PageDescriptor {
	out := make([]PageDescriptor, len(p.pages))
	copy(out, p.pages)
	return out
}

// SupplementalKeys returns the deduplicated supplemental keys.
func (p Plan) SupplementalKeys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// TotalExpected is the item count of a run where every page is full.
func (p Plan) TotalExpected() int {
	total := len(p.keys)
	for _, page := range p.pages {
		total += page.Size
	}
	return total
}

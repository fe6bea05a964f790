package configurator

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"autoprice/models"
)

const (
	// DefaultTimeout bounds every configurator request.
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 3
	// E2EModelRangeCap limits the per-market fan-out when running end-to-end tests.
	E2EModelRangeCap = 12
)

// Source describes where a vendor's configurator data lives. URL templates
// may contain {market}, {market_lower} and {model_range}.
type Source struct {
	Vendor        models.Vendor
	Fetcher       string
	IndexURL      string
	ModelRangeURL string
	// Selector locates the embedded JSON payload in an HTML page. Empty
	// means the response body is the payload.
	Selector string
	// BrowserPath is the Chrome binary used by the browser fetcher.
	BrowserPath string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimitMs int
	Concurrency int
	E2E         bool
}

func (s Source) withDefaults() Source {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 2 * time.Second
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.Fetcher == "" {
		s.Fetcher = "http"
	}
	return s
}

// Validate checks the templates are usable.
func (s Source) Validate() error {
	if s.IndexURL == "" || s.ModelRangeURL == "" {
		return fmt.Errorf("configurator: %s: index_url and model_range_url are required", s.Vendor)
	}
	if !strings.Contains(s.ModelRangeURL, "{model_range}") {
		return fmt.Errorf("configurator: %s: model_range_url must contain {model_range}", s.Vendor)
	}
	switch s.Fetcher {
	case "", "http", "browser":
	default:
		return fmt.Errorf("configurator: %s: unknown fetcher %q", s.Vendor, s.Fetcher)
	}
	return nil
}

func (s Source) indexURL(m models.Market) string {
	return expand(s.IndexURL, m, "")
}

func (s Source) modelRangeURL(m models.Market, code string) string {
	return expand(s.ModelRangeURL, m, code)
}

func expand(tmpl string, m models.Market, modelRange string) string {
	return strings.NewReplacer(
		"{market}", url.PathEscape(string(m)),
		"{market_lower}", url.PathEscape(strings.ToLower(string(m))),
		"{model_range}", url.PathEscape(modelRange),
	).Replace(tmpl)
}

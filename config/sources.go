package config

import (
	"time"

	"autoprice/models"
	"autoprice/scraper/configurator"
)

// BrowserToggle names the feature toggle that forces the headless browser
// fetcher for a vendor, e.g. "tesla_browser".
func BrowserToggle(v models.Vendor) string {
	return string(v) + "_browser"
}

// Sources returns the configurator adapter description of every vendor with
// a scraper.sources entry.
func (c *Config) Sources() (map[models.Vendor]configurator.Source, error) {
	out := make(map[models.Vendor]configurator.Source, len(c.Scraper.Sources))
	for name, s := range c.Scraper.Sources {
		v, err := models.ParseVendor(name)
		if err != nil {
			return nil, err
		}
		src := configurator.Source{
			Vendor:        v,
			Fetcher:       s.Fetcher,
			IndexURL:      s.IndexURL,
			ModelRangeURL: s.ModelRangeURL,
			Selector:      s.Selector,
			BrowserPath:   c.Scraper.BrowserPath,
			Timeout:       time.Duration(s.TimeoutSeconds) * time.Second,
			MaxRetries:    s.MaxRetries,
			RateLimitMs:   s.RateLimitMs,
			Concurrency:   s.Concurrency,
			E2E:           c.E2ETests,
		}
		if c.Feature(BrowserToggle(v)) {
			src.Fetcher = "browser"
		}
		if err := src.Validate(); err != nil {
			return nil, err
		}
		out[v] = src
	}
	return out, nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"

	"autoprice/models"
	"autoprice/services"
	"autoprice/storage"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables that override file values.
const (
	EnvOutputDir   = "AUTOPRICE_OUTPUT_DIR"
	EnvFileType    = "AUTOPRICE_FILE_TYPE"
	EnvEnvironment = "AUTOPRICE_ENVIRONMENT"
)

type Output struct {
	Directory                      string `json:"directory"`
	PricesFilename                 string `json:"prices_filename"`
	FinanceOptionsFilename         string `json:"finance_options_filename"`
	DifferencesFilename            string `json:"differences_filename"`
	PriceDifferencesFilename       string `json:"price_differences_filename"`
	OptionPriceDifferencesFilename string `json:"option_price_differences_filename"`
	FinanceDifferencesFilename     string `json:"finance_differences_filename"`
	FileType                       string `json:"file_type"`
}

// Source describes one vendor's configurator endpoints.
type Source struct {
	Fetcher        string `json:"fetcher"`
	IndexURL       string `json:"index_url"`
	ModelRangeURL  string `json:"model_range_url"`
	Selector       string `json:"selector"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries"`
	RateLimitMs    int    `json:"rate_limit_ms"`
	Concurrency    int    `json:"concurrency"`
}

type Scraper struct {
	Enabled     map[string][]string `json:"enabled"`
	Sources     map[string]Source   `json:"sources"`
	BrowserPath string              `json:"browser_path"`
}

type FinanceScraper struct {
	Enabled map[string][]string `json:"enabled"`
}

type Warehouse struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

type Notification struct {
	Channels struct {
		GChat string `json:"gchat"`
		Teams string `json:"teams"`
	} `json:"channels"`
	URLs struct {
		DashboardURL string `json:"dashboard_url"`
	} `json:"urls"`
	NATS struct {
		URL     string `json:"url"`
		Subject string `json:"subject"`
	} `json:"nats"`
}

// Configured reports whether any channel is set.
func (n Notification) Configured() bool {
	return n.Channels.GChat != "" || n.Channels.Teams != "" || n.NATS.URL != ""
}

// ADLS configures the object-store mirror. Credential fields accept secret
// references.
type ADLS struct {
	Enabled         bool   `json:"enabled"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

type DataQuality struct {
	RulesFile string          `json:"rules_file"`
	Rules     []services.Rule `json:"rules"`
}

// Config is the pipeline configuration file.
type Config struct {
	Output         Output          `json:"output"`
	Scraper        Scraper         `json:"scraper"`
	FinanceScraper FinanceScraper  `json:"finance_scraper"`
	Warehouse      Warehouse       `json:"warehouse"`
	Notification   Notification    `json:"notification"`
	ADLS           ADLS            `json:"adls"`
	DataQuality    DataQuality     `json:"data_quality"`
	FeatureToggle  map[string]bool `json:"feature_toggle"`
	Environment    string          `json:"environment"`
	E2ETests       bool            `json:"e2e_tests"`

	path string
}

// Load reads the configuration and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads .env, the config file and its .local sibling and applies
// environment overrides. The result is not validated, so callers can layer
// their own overrides on top before calling Validate.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// readConfig merges <name>.<ext> with <name>.local.<ext>, the latter winning
// for every non-zero field.
func readConfig(path string) (*Config, error) {
	var cfg Config
	found := false

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if len(raw) > 0 {
		if err := json5.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		found = true
	}

	base, ext := splitExt(path)
	localPath := base + ".local" + ext
	raw, err = os.ReadFile(localPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read %q: %w", localPath, err)
	}
	if len(raw) > 0 {
		var override Config
		if err := json5.Unmarshal(raw, &override); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", localPath, err)
		}
		if err := mergo.Merge(&cfg, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merge %q: %w", localPath, err)
		}
		found = true
	}

	if !found {
		return nil, fmt.Errorf("config: %q: %w", path, fs.ErrNotExist)
	}
	cfg.path = path
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Output.Directory = v
	}
	if v := os.Getenv(EnvFileType); v != "" {
		c.Output.FileType = v
	}
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %s: %w", fmt.Sprintf(format, args...), ErrInvalidConfig)
}

// Validate checks required keys and enum values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.Directory) == "" {
		return invalid("output.directory is required")
	}
	if _, err := storage.ParseFormat(c.Output.FileType); err != nil {
		return invalid("output.file_type %q", c.Output.FileType)
	}
	if _, err := parseEnabled(c.Scraper.Enabled); err != nil {
		return invalid("scraper.enabled: %v", err)
	}
	if _, err := parseEnabled(c.FinanceScraper.Enabled); err != nil {
		return invalid("finance_scraper.enabled: %v", err)
	}
	for name := range c.Scraper.Sources {
		if _, err := models.ParseVendor(name); err != nil {
			return invalid("scraper.sources: %v", err)
		}
	}
	if _, err := c.Sources(); err != nil {
		return invalid("scraper.sources: %v", err)
	}
	if c.Warehouse.Enabled && c.Warehouse.DSN == "" {
		return invalid("warehouse.dsn is required when warehouse.enabled")
	}
	if c.ADLS.Enabled && c.ADLS.Bucket == "" {
		return invalid("adls.bucket is required when adls.enabled")
	}
	return nil
}

func parseEnabled(raw map[string][]string) (map[models.Vendor][]models.Market, error) {
	out := make(map[models.Vendor][]models.Market, len(raw))
	for vendor, markets := range raw {
		v, err := models.ParseVendor(vendor)
		if err != nil {
			return nil, err
		}
		for _, market := range markets {
			m, err := models.ParseMarket(market)
			if err != nil {
				return nil, err
			}
			out[v] = append(out[v], m)
		}
	}
	return out, nil
}

// Enabled returns the vendor → markets map of the line item scraper.
func (c *Config) Enabled() map[models.Vendor][]models.Market {
	out, _ := parseEnabled(c.Scraper.Enabled)
	return out
}

// FinanceEnabled returns the vendor → markets map of the finance scraper.
func (c *Config) FinanceEnabled() map[models.Vendor][]models.Market {
	out, _ := parseEnabled(c.FinanceScraper.Enabled)
	return out
}

// Restrict narrows both enabled maps to one vendor and/or market. Empty
// arguments leave that dimension untouched.
func (c *Config) Restrict(vendor, market string) error {
	var v models.Vendor
	var m models.Market
	var err error
	if vendor != "" {
		if v, err = models.ParseVendor(vendor); err != nil {
			return invalid("--scraper: %v", err)
		}
	}
	if market != "" {
		if m, err = models.ParseMarket(market); err != nil {
			return invalid("--market: %v", err)
		}
	}
	c.Scraper.Enabled = restrict(c.Scraper.Enabled, v, m)
	c.FinanceScraper.Enabled = restrict(c.FinanceScraper.Enabled, v, m)
	return nil
}

func restrict(raw map[string][]string, vendor models.Vendor, market models.Market) map[string][]string {
	out := make(map[string][]string)
	for name, markets := range raw {
		v, _ := models.ParseVendor(name)
		if vendor != "" && v != vendor {
			continue
		}
		var keep []string
		for _, s := range markets {
			if mk, _ := models.ParseMarket(s); market == "" || mk == market {
				keep = append(keep, s)
			}
		}
		if len(keep) > 0 {
			out[name] = keep
		}
	}
	return out
}

// Format is the validated output encoding.
func (c *Config) Format() storage.Format {
	f, _ := storage.ParseFormat(c.Output.FileType)
	return f
}

// Filenames returns the family names, defaults filled in by the storage layer.
func (c *Config) Filenames() storage.Filenames {
	return storage.Filenames{
		Prices:                 c.Output.PricesFilename,
		FinanceOptions:         c.Output.FinanceOptionsFilename,
		Differences:            c.Output.DifferencesFilename,
		PriceDifferences:       c.Output.PriceDifferencesFilename,
		OptionPriceDifferences: c.Output.OptionPriceDifferencesFilename,
		FinanceDifferences:     c.Output.FinanceDifferencesFilename,
	}
}

// Feature reports whether a feature toggle is on. Unknown toggles are off.
func (c *Config) Feature(name string) bool {
	return c.FeatureToggle[name]
}

// Rules returns the rule catalogue file's rules followed by the inline ones.
// A relative rules_file is resolved against the config file's directory.
func (c *Config) Rules() ([]services.Rule, error) {
	var rules []services.Rule
	if f := c.DataQuality.RulesFile; f != "" {
		if !filepath.IsAbs(f) && c.path != "" {
			f = filepath.Join(filepath.Dir(c.path), f)
		}
		loaded, err := services.LoadRules(f)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	return append(rules, c.DataQuality.Rules...), nil
}

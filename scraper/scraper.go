// Package scraper runs vendor scrapers for every enabled (vendor, market)
// pair and turns their output into one dated snapshot.
package scraper

import (
	"context"
	"errors"
	"time"

	"autoprice/models"
	"autoprice/storage"
	"autoprice/utils"
)

// ErrNoScraper is reported for a vendor that has no registered scraper.
var ErrNoScraper = errors.New("no scraper registered")

// Record is a snapshot row the orchestrator can stamp, validate and fall back on.
type Record[T any] interface {
	PairKey() models.Pair
	Stamped(at time.Time) T
	AsFallback(at time.Time) T
	Validate() error
}

// Scraper fetches one market of a vendor. It may fail or return nothing;
// either way the orchestrator substitutes yesterday's rows.
type Scraper[T any] interface {
	Scrape(ctx context.Context, market models.Market) ([]T, error)
}

// Func adapts a plain function to Scraper.
type Func[T any] func(ctx context.Context, market models.Market) ([]T, error)

func (f Func[T]) Scrape(ctx context.Context, market models.Market) ([]T, error) {
	return f(ctx, market)
}

// Registry maps each vendor to its scraper.
type Registry[T any] map[models.Vendor]Scraper[T]

// Register adds or replaces the scraper of a vendor.
func (r Registry[T]) Register(vendor models.Vendor, s Scraper[T]) {
	r[vendor] = s
}

// Lookup returns the scraper of a vendor.
func (r Registry[T]) Lookup(vendor models.Vendor) (Scraper[T], bool) {
	s, ok := r[vendor]
	return s, ok
}

// Repository is the dated storage the orchestrator reads yesterday from and
// writes today to.
type Repository[T storage.Record] interface {
	storage.SnapshotReader[T]
	storage.SnapshotWriter[T]
	ByMarket(key utils.DateKey, vendor models.Vendor, market models.Market) ([]T, error)
}

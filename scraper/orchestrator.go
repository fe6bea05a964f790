package scraper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"autoprice/models"
	"autoprice/utils"
)

// PairResult is the outcome of one (vendor, market).
type PairResult struct {
	Pair     models.Pair
	Rows     int
	Dropped  int
	Fallback bool
	Err      error
}

// Result summarises a run.
type Result struct {
	Key    utils.DateKey
	Merged bool
	Pairs  []PairResult
	Total  int
}

// Fallbacks returns the pairs that were served from yesterday.
func (r Result) Fallbacks() []models.Pair {
	var out []models.Pair
	for _, p := range r.Pairs {
		if p.Fallback {
			out = append(out, p.Pair)
		}
	}
	return out
}

// Orchestrator fans out over the enabled pairs, one bounded worker pool per
// vendor, and saves the collected rows as today's snapshot.
type Orchestrator[T Record[T]] struct {
	enabled  map[models.Vendor][]models.Market
	scrapers Registry[T]
	repo     Repository[T]
	clock    utils.Clock
	logger   *utils.Logger
	tracer   trace.Tracer
}

// NewOrchestrator creates an orchestrator for the enabled vendor → markets map.
func NewOrchestrator[T Record[T]](enabled map[models.Vendor][]models.Market, scrapers Registry[T], repo Repository[T], clock utils.Clock, logger *utils.Logger) *Orchestrator[T] {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Orchestrator[T]{
		enabled:  enabled,
		scrapers: scrapers,
		repo:     repo,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("autoprice/scraper"),
	}
}

type pairOutput[T any] struct {
	result PairResult
	rows   []T
}

// RunAll scrapes every enabled pair and writes today's snapshot. If ctx is
// cancelled before all workers finish, nothing is written.
func (o *Orchestrator[T]) RunAll(ctx context.Context) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "scraper.RunAll")
	defer span.End()

	now := o.clock.Now()
	todayKey := utils.KeyFor(now)
	yesterdayKey := todayKey.Previous()

	vendors := make([]models.Vendor, 0, len(o.enabled))
	total := 0
	for v, ms := range o.enabled {
		vendors = append(vendors, v)
		total += len(ms)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })

	o.logger.Info("Scraping %d vendors, %d markets for %s", len(vendors), total, todayKey)

	outputs := make(chan pairOutput[T], total)
	var wg sync.WaitGroup
	for _, vendor := range vendors {
		markets := o.enabled[vendor]
		wg.Add(1)
		go func(vendor models.Vendor, markets []models.Market) {
			defer wg.Done()
			pool := utils.NewWorkerPool(len(markets), 0)
			for _, market := range markets {
				market := market
				ok := pool.Submit(ctx, func(ctx context.Context) {
					outputs <- o.runPair(ctx, vendor, market, now, yesterdayKey)
				})
				if !ok {
					break
				}
			}
			pool.Wait()
		}(vendor, markets)
	}
	wg.Wait()
	close(outputs)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return Result{Key: todayKey}, fmt.Errorf("scraper: run cancelled, %s not written: %w", todayKey, err)
	}

	res := Result{Key: todayKey}
	var fresh []T
	for out := range outputs {
		res.Pairs = append(res.Pairs, out.result)
		fresh = append(fresh, out.rows...)
	}
	sort.Slice(res.Pairs, func(i, j int) bool { return res.Pairs[i].Pair.String() < res.Pairs[j].Pair.String() })
	res.Total = len(fresh)

	if err := o.save(todayKey, fresh, &res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	span.SetAttributes(
		attribute.String("date_key", todayKey.String()),
		attribute.Int("rows", res.Total),
		attribute.Int("fallbacks", len(res.Fallbacks())),
	)
	o.logger.Info("Saved %d rows for %s (%d pairs, %d from yesterday)", res.Total, todayKey, len(res.Pairs), len(res.Fallbacks()))
	return res, nil
}

func (o *Orchestrator[T]) save(key utils.DateKey, fresh []T, res *Result) error {
	if !o.repo.Exists(key) {
		if err := o.repo.Save(key, fresh); err != nil {
			return fmt.Errorf("scraper: save %s: %w", key, err)
		}
		return nil
	}

	existing, err := o.repo.Load(key)
	if err != nil {
		return fmt.Errorf("scraper: load existing %s: %w", key, err)
	}
	if err := o.repo.MergeUpdate(key, existing, fresh, models.NewPairSet(o.enabled)); err != nil {
		return fmt.Errorf("scraper: merge %s: %w", key, err)
	}
	res.Merged = true
	o.logger.Info("Merged into existing %s snapshot (%d rows before)", key, len(existing))
	return nil
}

// runPair scrapes one (vendor, market), falling back to yesterday's rows when
// the scraper fails or yields nothing usable.
func (o *Orchestrator[T]) runPair(ctx context.Context, vendor models.Vendor, market models.Market, now time.Time, yesterday utils.DateKey) pairOutput[T] {
	pair := models.Pair{Vendor: vendor, Market: market}
	log := o.logger.With("vendor", vendor).With("market", market)

	ctx, span := o.tracer.Start(ctx, "scraper.Pair", trace.WithAttributes(
		attribute.String("vendor", string(vendor)),
		attribute.String("market", string(market)),
	))
	defer span.End()

	out := pairOutput[T]{result: PairResult{Pair: pair}}

	var scraped []T
	var err error
	if s, ok := o.scrapers.Lookup(vendor); ok {
		scraped, err = s.Scrape(ctx, market)
	} else {
		err = fmt.Errorf("%w for %s", ErrNoScraper, vendor)
	}
	if ctx.Err() != nil {
		out.result.Err = ctx.Err()
		return out
	}

	if err == nil {
		out.rows, out.result.Dropped = o.clean(log, pair, scraped, now)
		if len(out.rows) > 0 {
			out.result.Rows = len(out.rows)
			log.Info("Scraped %d rows", out.result.Rows)
			return out
		}
		err = fmt.Errorf("scraper returned no usable rows")
	}

	out.result.Err = err
	out.result.Fallback = true
	span.RecordError(err)
	log.Error("Scrape failed, using %s: %v", yesterday, err)

	previous, ferr := o.repo.ByMarket(yesterday, vendor, market)
	if ferr != nil {
		log.Error("Fallback load failed: %v", ferr)
		out.rows = nil
		return out
	}
	out.rows = make([]T, len(previous))
	for i, r := range previous {
		out.rows[i] = r.AsFallback(now)
	}
	out.result.Rows = len(out.rows)
	if len(out.rows) == 0 {
		log.Warn("No rows in %s either; pair is empty today", yesterday)
	}
	return out
}

// clean stamps freshly scraped rows and drops the ones that fail validation
// or belong to another pair.
func (o *Orchestrator[T]) clean(log *utils.Logger, pair models.Pair, rows []T, now time.Time) ([]T, int) {
	out := make([]T, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if got := r.PairKey(); got != pair {
			dropped++
			log.Warn("Dropping row scraped for %s", got)
			continue
		}
		stamped := r.Stamped(now)
		if err := stamped.Validate(); err != nil {
			dropped++
			log.Warn("Dropping invalid row: %v", err)
			continue
		}
		out = append(out, stamped)
	}
	return out, dropped
}

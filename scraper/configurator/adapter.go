// Package configurator scrapes vendor car configurators described by a
// Source and turns their payloads into line items and finance offers.
package configurator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autoprice/models"
	"autoprice/scraper"
	"autoprice/utils"
)

// LineFallback is the slice of the prices repository the adapter reads
// yesterday's rows from when part of a market fails.
type LineFallback interface {
	ByModelRangeCode(key utils.DateKey, v models.Vendor, m models.Market, code string) ([]models.LineItem, error)
	ByTrimLine(key utils.DateKey, v models.Vendor, m models.Market, modelCode, lineCode string) ([]models.LineItem, error)
}

// FinanceFallback is the finance counterpart of LineFallback.
type FinanceFallback interface {
	ByModelRangeCode(key utils.DateKey, v models.Vendor, m models.Market, code string) ([]models.FinanceLineItem, error)
}

// Adapter scrapes one vendor's configurator.
type Adapter struct {
	src     Source
	fetcher Fetcher
	parser  Parser
	clock   utils.Clock
	logger  *utils.Logger
	limiter *rate.Limiter
	retry   *utils.RetryConfig

	lines   LineFallback
	finance FinanceFallback
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithFetcher replaces the fetcher chosen from the source.
func WithFetcher(f Fetcher) Option { return func(a *Adapter) { a.fetcher = f } }

// WithParser replaces the vendor's registered parser.
func WithParser(p Parser) Option { return func(a *Adapter) { a.parser = p } }

// WithLineFallback sets where failed model ranges and trims are recovered from.
func WithLineFallback(r LineFallback) Option { return func(a *Adapter) { a.lines = r } }

// WithFinanceFallback sets where failed finance model ranges are recovered from.
func WithFinanceFallback(r FinanceFallback) Option { return func(a *Adapter) { a.finance = r } }

// WithClock sets the clock used to find yesterday.
func WithClock(c utils.Clock) Option { return func(a *Adapter) { a.clock = c } }

// New creates an adapter for src.
func New(src Source, logger *utils.Logger, opts ...Option) *Adapter {
	src = src.withDefaults()
	logger = logger.With("vendor", string(src.Vendor))

	limit := rate.Inf
	if src.RateLimitMs > 0 {
		limit = rate.Every(time.Duration(src.RateLimitMs) * time.Millisecond)
	}

	a := &Adapter{
		src:     src,
		clock:   utils.SystemClock{},
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		retry: &utils.RetryConfig{
			MaxAttempts: src.MaxRetries,
			BaseDelay:   src.RetryDelay,
			Logger:      logger,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fetcher == nil {
		a.fetcher = NewFetcher(src, logger)
	}
	if a.parser == nil {
		a.parser = ParserFor(src.Vendor)
	}
	return a
}

// Close releases the fetcher.
func (a *Adapter) Close() error {
	return a.fetcher.Close()
}

// Lines exposes the line scrape as an orchestrator capability.
func (a *Adapter) Lines() scraper.Scraper[models.LineItem] {
	return scraper.Func[models.LineItem](a.ScrapeLines)
}

// Finance exposes the finance scrape as an orchestrator capability.
func (a *Adapter) Finance() scraper.Scraper[models.FinanceLineItem] {
	return scraper.Func[models.FinanceLineItem](a.ScrapeFinance)
}

// fetch paces, bounds and retries a single request, then extracts the payload.
func (a *Adapter) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := a.retry.Do(ctx, "fetch "+url, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, a.src.Timeout)
		defer cancel()

		raw, err := a.fetcher.Fetch(reqCtx, url)
		if err != nil {
			return err
		}
		body, err = ExtractPayload(raw, a.src.Selector)
		return err
	})
	return body, err
}

func (a *Adapter) modelRanges(ctx context.Context, market models.Market) ([]ModelRange, error) {
	body, err := a.fetch(ctx, a.src.indexURL(market))
	if err != nil {
		return nil, fmt.Errorf("configurator: %s/%s index: %w", a.src.Vendor, market, err)
	}
	ranges, err := a.parser.ParseIndex(body)
	if err != nil {
		return nil, err
	}
	ranges = uniqueRanges(ranges)
	if a.src.E2E && len(ranges) > E2EModelRangeCap {
		ranges = ranges[:E2EModelRangeCap]
	}
	return ranges, nil
}

// uniqueRanges keeps the first occurrence of every model range code. Indexes
// list a model range once per body style.
func uniqueRanges(ranges []ModelRange) []ModelRange {
	seen := utils.NewKeySet()
	out := make([]ModelRange, 0, len(ranges))
	for _, mr := range ranges {
		if seen.Add(mr.Code) {
			out = append(out, mr)
		}
	}
	return out
}

// fanOut runs fn for every model range on a bounded pool and concatenates
// the results. It returns ctx's error if the run was cancelled.
func fanOut[T any](ctx context.Context, size int, ranges []ModelRange, fn func(context.Context, ModelRange) []T) ([]T, error) {
	pool := utils.NewWorkerPool(min(size, len(ranges)), 0)

	var (
		mu  sync.Mutex
		out []T
	)
	for _, mr := range ranges {
		mr := mr
		pool.Submit(ctx, func(ctx context.Context) {
			rows := fn(ctx, mr)
			mu.Lock()
			out = append(out, rows...)
			mu.Unlock()
		})
	}
	pool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScrapeLines scrapes every model range of market. A model range that fails
// is replaced by yesterday's rows for that model range; a trim the payload
// could not price is replaced by yesterday's rows for that trim.
func (a *Adapter) ScrapeLines(ctx context.Context, market models.Market) ([]models.LineItem, error) {
	log := a.logger.With("market", string(market))

	ranges, err := a.modelRanges(ctx, market)
	if err != nil {
		return nil, err
	}
	log.Info("Found %d model ranges", len(ranges))

	lines, err := fanOut(ctx, a.src.Concurrency, ranges, func(ctx context.Context, mr ModelRange) []models.LineItem {
		body, err := a.fetch(ctx, a.src.modelRangeURL(market, mr.Code))
		var (
			rows   []models.LineItem
			failed []Trim
		)
		if err == nil {
			rows, failed, err = a.parser.ParseLines(market, mr, body)
		}
		if err != nil || (len(rows) == 0 && len(failed) == 0) {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("Model range %s failed, falling back: %v", mr.Code, err)
			return a.lineRangeFallback(market, mr.Code, log)
		}
		for _, t := range failed {
			log.Warn("Trim %s/%s could not be priced, falling back", t.ModelCode, t.LineCode)
			rows = append(rows, a.trimFallback(market, t, log)...)
		}
		return rows
	})
	if err != nil {
		return nil, err
	}
	log.Info("Scraped %d lines", len(lines))
	return lines, nil
}

func (a *Adapter) yesterday() utils.DateKey {
	return utils.YesterdayKey(a.clock)
}

func (a *Adapter) lineRangeFallback(market models.Market, code string, log *utils.Logger) []models.LineItem {
	if a.lines == nil {
		return nil
	}
	rows, err := a.lines.ByModelRangeCode(a.yesterday(), a.src.Vendor, market, code)
	if err != nil {
		log.Error("Fallback for model range %s failed: %v", code, err)
		return nil
	}
	return fallbackLines(rows, a.clock.Now())
}

func (a *Adapter) trimFallback(market models.Market, t Trim, log *utils.Logger) []models.LineItem {
	if a.lines == nil {
		return nil
	}
	rows, err := a.lines.ByTrimLine(a.yesterday(), a.src.Vendor, market, t.ModelCode, t.LineCode)
	if err != nil {
		log.Error("Fallback for trim %s/%s failed: %v", t.ModelCode, t.LineCode, err)
		return nil
	}
	return fallbackLines(rows, a.clock.Now())
}

func fallbackLines(rows []models.LineItem, at time.Time) []models.LineItem {
	out := make([]models.LineItem, len(rows))
	for i, r := range rows {
		out[i] = r.AsFallback(at)
	}
	return out
}

// ScrapeFinance scrapes the finance offers of every model range of market,
// falling back per model range like ScrapeLines.
func (a *Adapter) ScrapeFinance(ctx context.Context, market models.Market) ([]models.FinanceLineItem, error) {
	log := a.logger.With("market", string(market))

	ranges, err := a.modelRanges(ctx, market)
	if err != nil {
		return nil, err
	}

	offers, err := fanOut(ctx, a.src.Concurrency, ranges, func(ctx context.Context, mr ModelRange) []models.FinanceLineItem {
		body, err := a.fetch(ctx, a.src.modelRangeURL(market, mr.Code))
		var rows []models.FinanceLineItem
		if err == nil {
			rows, err = a.parser.ParseFinance(market, mr, body)
		}
		if err == nil && len(rows) > 0 {
			return rows
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Error("Finance for model range %s failed, falling back: %v", mr.Code, err)
		if a.finance == nil {
			return nil
		}
		prev, ferr := a.finance.ByModelRangeCode(a.yesterday(), a.src.Vendor, market, mr.Code)
		if ferr != nil {
			log.Error("Finance fallback for model range %s failed: %v", mr.Code, ferr)
			return nil
		}
		now := a.clock.Now()
		for i := range prev {
			prev[i] = prev[i].AsFallback(now)
		}
		return prev
	})
	if err != nil {
		return nil, err
	}
	log.Info("Scraped %d finance offers", len(offers))
	return offers, nil
}

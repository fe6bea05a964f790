package commands

import (
	"context"

	"github.com/spf13/cobra"

	"autoprice/models"
	"autoprice/scraper"
	"autoprice/scraper/configurator"
	"autoprice/services"
	"autoprice/storage"
)

func newScrapeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [--scraper <vendor>] [--market <market>]",
		Short: "Scrapes line item prices for the enabled vendors and markets.",
		RunE:  run(opts, scrapeLines),
	}
}

func newScrapeFinanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape-finance [--scraper <vendor>] [--market <market>]",
		Short: "Scrapes finance offers for the enabled vendors and markets.",
		RunE:  run(opts, scrapeFinance),
	}
}

// adapters builds one configurator adapter per configured source.
func (e *env) adapters(opts ...configurator.Option) (map[models.Vendor]*configurator.Adapter, error) {
	sources, err := e.cfg.Sources()
	if err != nil {
		return nil, err
	}
	opts = append(opts, configurator.WithClock(e.clock))
	out := make(map[models.Vendor]*configurator.Adapter, len(sources))
	for v, src := range sources {
		out[v] = configurator.New(src, e.logger, opts...)
	}
	return out, nil
}

func closeAll(e *env, adapters map[models.Vendor]*configurator.Adapter) {
	for v, a := range adapters {
		if err := a.Close(); err != nil {
			e.logger.Warn("Closing %s adapter: %v", v, err)
		}
	}
}

func logResult(e *env, res scraper.Result) {
	for _, p := range res.Pairs {
		if p.Fallback {
			e.logger.Warn("%s served from yesterday (%d rows): %v", p.Pair, p.Rows, p.Err)
		} else if p.Dropped > 0 {
			e.logger.Warn("%s dropped %d invalid rows", p.Pair, p.Dropped)
		}
	}
}

func scrapeLines(ctx context.Context, _ *cobra.Command, e *env) error {
	today := e.today()
	yesterday := today.Previous()
	e.download(ctx, yesterday, today)

	repo, err := storage.NewLineItemRepository(e.layout.Prices(), yesterday)
	if err != nil {
		return err
	}
	adapters, err := e.adapters(configurator.WithLineFallback(repo))
	if err != nil {
		return err
	}
	defer closeAll(e, adapters)

	registry := scraper.Registry[models.LineItem]{}
	for v, a := range adapters {
		registry.Register(v, a.Lines())
	}

	enabled := e.cfg.Enabled()
	res, err := scraper.NewOrchestrator(enabled, registry, repo, e.clock, e.logger).RunAll(ctx)
	if err != nil {
		return err
	}
	logResult(e, res)
	e.upload(ctx, today)

	saved, err := e.layout.Prices().Load(today)
	if err != nil {
		e.logger.Warn("[dq] Reloading %s: %v", today, err)
		return nil
	}
	services.NewQualityChecker(e.logger).CheckLines(saved, models.NewPairSet(enabled))
	return nil
}

func scrapeFinance(ctx context.Context, _ *cobra.Command, e *env) error {
	today := e.today()
	yesterday := today.Previous()
	e.download(ctx, yesterday, today)

	repo, err := storage.NewFinanceRepository(e.layout.FinanceOptions(), yesterday)
	if err != nil {
		return err
	}
	adapters, err := e.adapters(configurator.WithFinanceFallback(repo))
	if err != nil {
		return err
	}
	defer closeAll(e, adapters)

	registry := scraper.Registry[models.FinanceLineItem]{}
	for v, a := range adapters {
		registry.Register(v, a.Finance())
	}

	enabled := e.cfg.FinanceEnabled()
	res, err := scraper.NewOrchestrator(enabled, registry, repo, e.clock, e.logger).RunAll(ctx)
	if err != nil {
		return err
	}
	logResult(e, res)
	e.upload(ctx, today)

	saved, err := e.layout.FinanceOptions().Load(today)
	if err != nil {
		e.logger.Warn("[dq] Reloading %s: %v", today, err)
		return nil
	}
	services.NewQualityChecker(e.logger).CheckFinance(saved, models.NewPairSet(enabled))
	return nil
}

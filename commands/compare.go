package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"autoprice/models"
	"autoprice/notify"
	"autoprice/services"
	"autoprice/storage"
	"autoprice/utils"
)

func newCompareCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Compares today's prices with yesterday's and writes the changelogs.",
		RunE:  run(opts, compareLines),
	}
}

func newCompareFinanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compare-finance",
		Short: "Compares today's PCP offers with yesterday's and writes the finance changelog.",
		RunE:  run(opts, compareFinance),
	}
}

// loadPair reads today's and yesterday's snapshot of one store.
func loadPair[T storage.Record](e *env, store *storage.Store[T], today utils.DateKey) ([]T, []T, error) {
	yesterday := today.Previous()
	todays, err := store.Load(today)
	if err != nil {
		return nil, nil, err
	}
	if len(todays) == 0 {
		e.logger.Warn("No %s rows for %s", store.Family(), today)
	}
	yesterdays, err := store.Load(yesterday)
	if err != nil {
		return nil, nil, err
	}
	if len(yesterdays) == 0 {
		e.logger.Warn("No %s rows for %s; every line will be reported as new", store.Family(), yesterday)
	}
	return todays, yesterdays, nil
}

func compareLines(ctx context.Context, _ *cobra.Command, e *env) error {
	today := e.today()
	e.download(ctx, today.Previous(), today)

	todays, yesterdays, err := loadPair(e, e.layout.Prices(), today)
	if err != nil {
		return err
	}

	diffs := services.NewComparator(e.logger).CompareLines(ctx, todays, yesterdays, e.now())
	prices := services.PriceDifferences(diffs)
	optionPrices := services.OptionPriceDifferences(diffs, e.logger)

	if err := e.layout.Differences().Save(today, diffs); err != nil {
		return fmt.Errorf("save changelog: %w", err)
	}
	if err := e.layout.PriceDifferences().Save(today, prices); err != nil {
		return fmt.Errorf("save price changelog: %w", err)
	}
	if err := e.layout.OptionPriceDifferences().Save(today, optionPrices); err != nil {
		return fmt.Errorf("save option price changelog: %w", err)
	}
	e.logger.Info("Wrote %d differences, %d price changes, %d option price changes for %s",
		len(diffs), len(prices), len(optionPrices), today)

	publishChangelog(ctx, e.logger, today, prices, e.changelogSinks(ctx)...)
	e.upload(ctx, today)
	return nil
}

// changelogSinks opens every configured destination of the price changelog.
// A sink that cannot be opened is logged and skipped.
func (e *env) changelogSinks(ctx context.Context) []storage.ChangelogSink {
	var sinks []storage.ChangelogSink
	if e.cfg.Warehouse.Enabled {
		if pw, err := e.openWarehouse(ctx); err != nil {
			e.logger.Error("[warehouse] %v", err)
		} else {
			sinks = append(sinks, pw)
		}
	}
	if n := e.cfg.Notification.NATS; n.URL != "" {
		if bus, err := notify.NewNATS(n.URL, n.Subject); err != nil {
			e.logger.Error("[changelog] %v", err)
		} else {
			sinks = append(sinks, bus)
		}
	}
	return sinks
}

func (e *env) openWarehouse(ctx context.Context) (*storage.PostgresWriter, error) {
	dsn, err := e.cfg.WarehouseDSN()
	if err != nil {
		return nil, err
	}
	return storage.NewPostgresWriter(ctx, dsn, e.logger)
}

// publishChangelog hands the price changelog to every sink and closes them.
// Failures are logged; the files on disk remain the source of truth.
func publishChangelog(ctx context.Context, logger *utils.Logger, key utils.DateKey, prices []models.PriceDifferenceItem, sinks ...storage.ChangelogSink) int {
	written := 0
	for _, sink := range sinks {
		if err := sink.WritePriceChangelog(ctx, key, prices); err != nil {
			logger.Error("[changelog] %T: %v", sink, err)
		} else {
			written++
		}
		if counter, ok := sink.(interface {
			CountForDay(context.Context, utils.DateKey) (int, error)
		}); ok {
			if n, err := counter.CountForDay(ctx, key); err == nil {
				logger.Info("[warehouse] %d price changelog rows stored for %s", n, key)
			}
		}
		if err := sink.Close(); err != nil {
			logger.Warn("[changelog] %T: close: %v", sink, err)
		}
	}
	return written
}

func compareFinance(ctx context.Context, _ *cobra.Command, e *env) error {
	today := e.today()
	e.download(ctx, today.Previous(), today)

	todays, yesterdays, err := loadPair(e, e.layout.FinanceOptions(), today)
	if err != nil {
		return err
	}

	diffs := services.NewComparator(e.logger).CompareFinance(ctx, todays, yesterdays, e.now())
	if err := e.layout.FinanceDifferences().Save(today, diffs); err != nil {
		return fmt.Errorf("save finance changelog: %w", err)
	}
	e.logger.Info("Wrote %d PCP differences for %s", len(diffs), today)
	e.upload(ctx, today)
	return nil
}

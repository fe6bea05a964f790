package commands

import (
	"context"

	"github.com/spf13/cobra"

	"autoprice/models"
	"autoprice/services"
)

func newCheckDQCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-dq",
		Short: "Runs the data quality checks and rules on today's snapshots.",
		RunE:  run(opts, checkQuality),
	}
}

// checkQuality never fails on findings; only unreadable snapshots or a
// broken rule catalogue are errors.
func checkQuality(ctx context.Context, cmd *cobra.Command, e *env) error {
	today := e.today()
	e.download(ctx, today)

	lines, err := e.layout.Prices().Load(today)
	if err != nil {
		return err
	}
	finance, err := e.layout.FinanceOptions().Load(today)
	if err != nil {
		return err
	}

	checker := services.NewQualityChecker(e.logger)
	findings := checker.CheckLines(lines, models.NewPairSet(e.cfg.Enabled()))
	findings = append(findings, checker.CheckFinance(finance, models.NewPairSet(e.cfg.FinanceEnabled()))...)

	rules, err := e.cfg.Rules()
	if err != nil {
		return err
	}
	var results []services.RuleResult
	if len(rules) > 0 {
		proc, err := services.NewRuleProcessor(ctx, e.logger)
		if err != nil {
			return err
		}
		defer proc.Close()
		if err := proc.Load(ctx, lines, finance); err != nil {
			return err
		}
		if results, err = proc.Run(ctx, rules); err != nil {
			return err
		}
	}

	services.RenderQuality(cmd.OutOrStdout(), findings, results)
	e.logger.Info("[dq] %d findings, %d rule results for %s", len(findings), len(results), today)
	return nil
}

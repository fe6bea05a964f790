// Package commands is the autoprice command line driver.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"autoprice/config"
	"autoprice/objectstore"
	"autoprice/storage"
	"autoprice/utils"
)

type options struct {
	configPath string
	scraper    string
	market     string
	output     string
	directory  string
	date       string
	verbose    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "autoprice",
		Short:         "autoprice scrapes vehicle configurator prices and tracks their daily changes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "config.json", "The configuration file.")
	flags.StringVar(&opts.scraper, "scraper", "", "Only run this vendor.")
	flags.StringVar(&opts.market, "market", "", "Only run this market.")
	flags.StringVar(&opts.output, "output", "", "Override output.file_type (csv, avro or dual).")
	flags.StringVar(&opts.directory, "directory", "", "Override output.directory.")
	flags.StringVar(&opts.date, "date", "", "Process this day (YYYY-MM-DD) instead of today.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug messages.")

	root.AddCommand(
		newScrapeCmd(opts),
		newScrapeFinanceCmd(opts),
		newCompareCmd(opts),
		newCompareFinanceCmd(opts),
		newNotifyCmd(opts),
		newCheckDQCmd(opts),
		newReportCmd(opts),
	)
	return root
}

// ExecuteContext runs the command line with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// env is what every subcommand works with once flags and config are resolved.
type env struct {
	cfg    *config.Config
	logger *utils.Logger
	clock  utils.Clock
	layout storage.Layout
	mirror *objectstore.S3
}

func setup(cmd *cobra.Command, opts *options) (*env, error) {
	logger := utils.NewLoggerTo(cmd.ErrOrStderr(), opts.verbose).
		With("run_id", uuid.NewString()).
		With("command", cmd.Name())

	cfg, err := config.Read(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.output != "" {
		cfg.Output.FileType = opts.output
	}
	if opts.directory != "" {
		cfg.Output.Directory = opts.directory
	}
	if err := cfg.Restrict(opts.scraper, opts.market); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var clock utils.Clock = utils.SystemClock{}
	if opts.date != "" {
		key, err := utils.ParseDateKey(opts.date)
		if err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		clock = utils.FixedClock(key.Time())
	}

	e := &env{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
		layout: storage.NewLayout(cfg.Output.Directory, cfg.Format(), cfg.Filenames(), logger),
	}
	if cfg.ADLS.Enabled {
		e.mirror = openMirror(cmd.Context(), cfg, logger)
	}
	logger.Debug("Loaded %s (format %s, environment %q)", opts.configPath, cfg.Format(), cfg.Environment)
	return e, nil
}

func (e *env) today() utils.DateKey {
	return utils.TodayKey(e.clock)
}

func (e *env) now() time.Time {
	return e.clock.Now()
}

// run wraps a subcommand body with config setup.
func run(opts *options, body func(ctx context.Context, cmd *cobra.Command, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd, opts)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := body(cmd.Context(), cmd, e); err != nil {
			e.logger.Error("%s failed: %v", cmd.Name(), err)
			return err
		}
		e.logger.Info("%s finished in %s", cmd.Name(), time.Since(start).Round(time.Millisecond))
		return nil
	}
}

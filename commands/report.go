package commands

import (
	"context"

	"github.com/spf13/cobra"

	"autoprice/notify"
	"autoprice/services"
	"autoprice/utils"
)

func newReportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Prints today's changelogs as tables.",
		RunE: run(opts, func(ctx context.Context, cmd *cobra.Command, e *env) error {
			r, err := e.loadReport(ctx, e.today())
			if err != nil {
				return err
			}
			r.Render(cmd.OutOrStdout())
			return nil
		}),
	}
}

func newNotifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Sends today's changelog summary to the configured channels.",
		RunE:  run(opts, sendNotifications),
	}
}

// loadReport reads every changelog written for key. The finance changelog
// is optional.
func (e *env) loadReport(ctx context.Context, key utils.DateKey) (services.Report, error) {
	e.download(ctx, key)
	r := services.Report{Day: key}
	var err error
	if r.Differences, err = e.layout.Differences().Load(key); err != nil {
		return r, err
	}
	if r.Prices, err = e.layout.PriceDifferences().Load(key); err != nil {
		return r, err
	}
	if r.Options, err = e.layout.OptionPriceDifferences().Load(key); err != nil {
		return r, err
	}
	if r.Finance, err = e.layout.FinanceDifferences().Load(key); err != nil {
		e.logger.Warn("Finance changelog for %s unreadable: %v", key, err)
		r.Finance = nil
	}
	return r, nil
}

func (e *env) notifiers() []notify.Notifier {
	var out []notify.Notifier
	gchat, teams, err := e.cfg.Webhooks()
	if err != nil {
		e.logger.Error("[notify] %v", err)
	} else {
		if gchat != "" {
			out = append(out, notify.NewGoogleChat(gchat))
		}
		if teams != "" {
			out = append(out, notify.NewTeams(teams))
		}
	}
	if n := e.cfg.Notification.NATS; n.URL != "" {
		bus, err := notify.NewNATS(n.URL, n.Subject)
		if err != nil {
			e.logger.Error("[notify] %v", err)
		} else {
			out = append(out, bus)
		}
	}
	return out
}

func sendNotifications(ctx context.Context, _ *cobra.Command, e *env) error {
	if !e.cfg.Notification.Configured() {
		e.logger.Info("[notify] No notification channels configured")
		return nil
	}
	r, err := e.loadReport(ctx, e.today())
	if err != nil {
		return err
	}
	msg := notify.NewMessage(r, e.cfg.Environment, e.cfg.Notification.URLs.DashboardURL)

	channels := e.notifiers()
	defer func() {
		for _, n := range channels {
			if bus, ok := n.(*notify.NATS); ok {
				_ = bus.Close()
			}
		}
	}()
	sent := notify.NewMulti(e.logger, channels...).Send(ctx, msg)
	e.logger.Info("[notify] %s (%d of %d channels)", msg.Summary, sent, len(channels))
	return nil
}

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/safety"
	"github.com/adamancini/wpguard/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		cfg        watch.Config
		noRollback bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run health checks and batches on a schedule",
		Long: `Run in the foreground, probing the site and testing plugins on cron
schedules. Schedules use the five-field cron syntax or descriptors such as
@hourly and @every 10m.

A scheduled batch is skipped while the site is failing its health check or
while another test is running.

Schedules default to the watch section of the config file.

Examples:
  wpguard watch --health "*/5 * * * *"
  wpguard watch --health @every\ 1m --batch "0 3 * * *" --inactive-only`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			wc := e.cfg.Watch
			flags := cmd.Flags()
			if !flags.Changed("health") {
				cfg.HealthSchedule = wc.HealthSchedule
			}
			if !flags.Changed("batch") {
				cfg.BatchSchedule = wc.BatchSchedule
			}
			if !flags.Changed("inactive-only") {
				cfg.InactiveOnly = wc.InactiveOnly
			}
			if !flags.Changed("tz") {
				cfg.Timezone = wc.Timezone
			}
			cfg.AutoRollback = e.cfg.Safety.AutoRollback && !noRollback

			w, err := watch.New(e.sess, cfg,
				watch.WithLogger(e.log.With().Str("component", "watch").Logger()),
				watch.OnHealth(func(res health.Result, err error) {
					if err == nil && !res.Healthy() {
						_ = e.out.Write(healthView(res))
					}
				}),
				watch.OnBatch(func(report safety.BatchReport, err error) {
					if err == nil {
						_ = e.out.Write(batchView(report))
					}
				}),
			)
			if err != nil {
				return err
			}

			for _, next := range w.Next() {
				e.log.Info().Time("next", next).Msg("scheduled")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := w.Run(ctx); err != nil {
				return err
			}
			if e.out.Structured() {
				return e.out.Write(w.Stats())
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&cfg.HealthSchedule, "health", "", "Health check schedule")
	cmd.Flags().StringVar(&cfg.BatchSchedule, "batch", "", "Batch test schedule")
	cmd.Flags().BoolVar(&cfg.InactiveOnly, "inactive-only", false, "Scheduled batches test only inactive plugins")
	cmd.Flags().StringVar(&cfg.URL, "url", "", "URL to check instead of the site URL")
	cmd.Flags().StringVar(&cfg.Timezone, "tz", "", "Time zone the schedules are read in (default local)")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "Leave failing plugins active")

	return cmd
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/interactive"
	"github.com/adamancini/wpguard/internal/safety"
)

// parseRollbackMode maps the --rollback flag. Empty follows
// safety.auto_rollback in the config.
func parseRollbackMode(s string, auto bool) (safety.RollbackMode, error) {
	switch s {
	case "":
		if auto {
			return safety.RollbackAuto, nil
		}
		return safety.RollbackNone, nil
	case "auto":
		return safety.RollbackAuto, nil
	case "ask":
		return safety.RollbackAsk, nil
	case "none":
		return safety.RollbackNone, nil
	default:
		return 0, fmt.Errorf("invalid rollback mode %q (must be auto, ask or none)", s)
	}
}

func newTestCmd() *cobra.Command {
	var (
		url      string
		rollback string
	)

	cmd := &cobra.Command{
		Use:   "test <plugin>",
		Short: "Activate a plugin and roll it back if it breaks the site",
		Long: `Run a safety test: check the site is healthy, activate the plugin, wait for
it to settle, check the site again and deactivate the plugin if the site
now fails.

Rollback modes:
  auto  deactivate a failing plugin (default when safety.auto_rollback is set)
  ask   ask before deactivating
  none  leave the plugin active and only report

Examples:
  wpguard test contact-form-7
  wpguard test broken-seo --rollback ask
  wpguard test akismet --url https://staging.example.com/shop`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			mode, err := parseRollbackMode(rollback, e.cfg.Safety.AutoRollback)
			if err != nil {
				return err
			}
			prompter := interactive.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), assumeYes)

			res, err := e.sess.Test(cmd.Context(), args[0], url, mode, prompter)
			if errors.Is(err, safety.ErrBusy) {
				return err
			}
			if res.PluginName != "" {
				if werr := e.out.Write(testView(res)); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if !res.TestPassed {
				return fmt.Errorf("%s failed its safety test", args[0])
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "URL to check instead of the site URL")
	cmd.Flags().StringVar(&rollback, "rollback", "", "Rollback mode: auto, ask, none")
	_ = cmd.RegisterFlagCompletionFunc("rollback", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "ask", "none"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		url          string
		all          bool
		inactiveOnly bool
		noRollback   bool
	)

	cmd := &cobra.Command{
		Use:   "batch [plugin]...",
		Short: "Safety-test several plugins in turn",
		Long: `Test plugins one after another, starting from the active set. A backup of
the activation set is taken first.

With --all every installed plugin is tested; --inactive-only limits that to
plugins that are currently inactive. If the site is still broken after the
failing plugins are rolled back, every plugin activated during the batch
is deactivated.

Press Ctrl-C to stop after the current plugin.

Examples:
  wpguard batch akismet contact-form-7 broken-seo
  wpguard batch --all --inactive-only
  wpguard batch --all --no-rollback`,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			ctx := cmd.Context()
			names := args
			switch {
			case (all || inactiveOnly) && len(args) > 0:
				return errors.New("--all and --inactive-only cannot be combined with plugin names")
			case all || inactiveOnly:
				var err error
				names, err = e.sess.BatchCandidates(ctx, inactiveOnly)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					e.out.Println("No plugins to test.")
					return nil
				}
			case len(args) == 0:
				return errors.New("name plugins to test or use --all")
			}

			autoRollback := e.cfg.Safety.AutoRollback && !noRollback
			outcomes, err := e.sess.StartBatch(ctx, names, url, autoRollback)
			if err != nil {
				return err
			}
			e.log.Info().Int("plugins", len(names)).Bool("auto_rollback", autoRollback).Msg("batch started")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			for {
				select {
				case <-sig:
					e.log.Warn().Msg("stopping after the current plugin")
					e.sess.Stop()
				case outcome, ok := <-outcomes:
					if !ok {
						return errors.New("batch ended without a report")
					}
					if outcome.Err != nil {
						return outcome.Err
					}
					if err := e.out.Write(batchView(outcome.Report)); err != nil {
						return err
					}
					if len(outcome.Report.ProblematicPlugins) > 0 {
						return fmt.Errorf("%d plugin(s) failed", len(outcome.Report.ProblematicPlugins))
					}
					return nil
				}
			}
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "URL to check instead of the site URL")
	cmd.Flags().BoolVar(&all, "all", false, "Test every installed plugin")
	cmd.Flags().BoolVar(&inactiveOnly, "inactive-only", false, "With --all, test only inactive plugins")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "Leave failing plugins active")

	return cmd
}

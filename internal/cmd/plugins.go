package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

func newListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed plugins with their test status",
		Long: `List installed plugins, their activation status, pending updates and the
result of the last safety test.

When WP-CLI is not available the plugin directory is listed instead and
statuses are shown as unknown.

Examples:
  wpguard list
  wpguard list --status inactive
  wpguard list -o json`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			filter, err := types.ParseListFilter(status)
			if err != nil {
				return err
			}
			plugins, err := e.sess.Plugins(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return e.out.Write(pluginList(plugins))
		}),
	}

	cmd.Flags().StringVarP(&status, "status", "s", string(types.FilterAll), "Filter by status: all, active, inactive")
	_ = cmd.RegisterFlagCompletionFunc("status", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, f := range types.AllListFilters() {
			out = append(out, f.String())
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func newUpdatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "List plugins with a pending update",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			plugins, err := e.sess.UpdatesAvailable(cmd.Context())
			if err != nil {
				return err
			}
			if len(plugins) == 0 && !e.out.Structured() {
				e.out.Println("All plugins are up to date.")
				return nil
			}
			return e.out.Write(pluginList(plugins))
		}),
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <plugin>",
		Short: "Show details of an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			d, err := e.sess.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.out.Write(detailsView(d))
		}),
	}
}

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search the WordPress plugin directory",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			results, err := e.sess.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return e.out.Write(searchList(results))
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	return cmd
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <plugin>...",
		Short: "Activate plugins without a safety test",
		Long: `Activate plugins directly. Use 'wpguard test' to activate a plugin with a
health check and rollback.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			return runEach(e, "activate", args, func(name string) (wpcli.Outcome, error) {
				return e.sess.Activate(cmd.Context(), name)
			})
		}),
	}
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <plugin>...",
		Short: "Deactivate plugins",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			return runEach(e, "deactivate", args, func(name string) (wpcli.Outcome, error) {
				return e.sess.Deactivate(cmd.Context(), name)
			})
		}),
	}
}

func newInstallCmd() *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "install <slug>...",
		Short: "Install plugins from the WordPress plugin directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			return runEach(e, "install", args, func(name string) (wpcli.Outcome, error) {
				return e.sess.Install(cmd.Context(), name, activate)
			})
		}),
	}

	cmd.Flags().BoolVar(&activate, "activate", false, "Activate after installing")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	var deactivate bool

	cmd := &cobra.Command{
		Use:   "uninstall <plugin>...",
		Short: "Uninstall plugins",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			return runEach(e, "uninstall", args, func(name string) (wpcli.Outcome, error) {
				return e.sess.Uninstall(cmd.Context(), name, deactivate)
			})
		}),
	}

	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "Deactivate before uninstalling")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "update [plugin]...",
		Short: "Update plugins",
		Long: `Update the named plugins, or every plugin with --all.

Examples:
  wpguard update akismet
  wpguard update --all`,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			switch {
			case all && len(args) > 0:
				return errors.New("--all cannot be combined with plugin names")
			case all:
				args = []string{""}
			case len(args) == 0:
				return errors.New("name a plugin or use --all")
			}
			return runEach(e, "update", args, func(name string) (wpcli.Outcome, error) {
				return e.sess.Update(cmd.Context(), name)
			})
		}),
	}

	cmd.Flags().BoolVar(&all, "all", false, "Update every plugin")
	return cmd
}

func newFlushCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush-cache",
		Short: "Flush the object cache and rewrite rules",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			o, err := e.sess.FlushCache(cmd.Context())
			if werr := e.out.Write(outcomeView{Action: "flush cache", Outcome: o}); werr != nil {
				return werr
			}
			return err
		}),
	}
}

// runEach applies fn to every name, reports each outcome and fails if any
// of them failed.
func runEach(e *env, action string, names []string, fn func(name string) (wpcli.Outcome, error)) error {
	var views outcomeList
	failed := 0
	for _, name := range names {
		o, err := fn(name)
		if err != nil {
			failed++
			if o.Message == "" {
				o.Message = err.Error()
			}
		}
		views = append(views, outcomeView{Plugin: name, Action: action, Outcome: o})
	}
	if err := e.out.Write(views); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%s failed for %d of %d plugin(s)", action, failed, len(names))
	}
	return nil
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/health"
)

func newHealthCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the site answers without fatal errors",
		Long: `Fetch the site front page and report its status code, response time and any
PHP fatal error signatures in the page.

The URL defaults to site.url in the config, then to the siteurl option
reported by WP-CLI.`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			res, err := e.sess.Health(cmd.Context(), url)
			if err != nil {
				return err
			}
			if err := e.out.Write(healthView(res)); err != nil {
				return err
			}
			if !res.Healthy() {
				return fmt.Errorf("site %s is unhealthy", res.URL)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "URL to check instead of the site URL")
	return cmd
}

type logView struct {
	Path  string   `json:"path" yaml:"path"`
	Lines []string `json:"lines" yaml:"lines"`
}

func (v logView) String() string {
	if len(v.Lines) == 0 {
		return fmt.Sprintf("%s is empty.", v.Path)
	}
	return strings.Join(v.Lines, "\n")
}

type logErrorsView health.LogCheck

func (v logErrorsView) String() string {
	if !v.HasRecentErrors {
		return fmt.Sprintf("No recent errors in %s.", v.LogPath)
	}
	return fmt.Sprintf("Recent errors in %s:\n%s", v.LogPath, strings.Join(v.RecentErrors, "\n"))
}

func newLogsCmd() *cobra.Command {
	var (
		lines      int
		errorsOnly bool
		clearLog   bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or clear the WordPress debug log",
		Long: `Show the tail of wp-content/debug.log on the site.

With --errors only PHP fatal errors, warnings and notices are shown, minus
lines from plugins marked resolved.

Examples:
  wpguard logs --lines 100
  wpguard logs --errors
  wpguard logs --clear`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			ctx := cmd.Context()
			switch {
			case clearLog:
				path, err := e.sess.ClearLogs(ctx)
				if err != nil {
					return err
				}
				e.out.Printf("Cleared %s\n", path)
				return nil
			case errorsOnly:
				lc, err := e.sess.LogErrors(ctx)
				if err != nil {
					return err
				}
				return e.out.Write(logErrorsView(lc))
			default:
				out, err := e.sess.Logs(ctx, lines)
				if err != nil {
					return err
				}
				return e.out.Write(logView{Path: e.cfg.DebugLogPath(), Lines: out})
			}
		}),
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "Show recent error lines only")
	cmd.Flags().BoolVar(&clearLog, "clear", false, "Truncate the debug log")
	cmd.MarkFlagsMutuallyExclusive("errors", "clear")
	return cmd
}

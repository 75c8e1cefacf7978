package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "resolve <plugin>",
		Short: "Stop counting a plugin's log errors against the site",
		Long: `Mark a plugin as resolved. Debug log lines that mention the plugin no longer
count as errors in health checks and safety tests.

The plugin's current error lines are kept with the marker. The marker is
cleared automatically once the plugin is active again.`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			entry, err := e.sess.Resolve(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if e.out.Structured() {
				return e.out.Write(entry)
			}
			e.out.Printf("Marked %s as resolved", entry.PluginName)
			if n := len(entry.ErrorDetails); n > 0 {
				e.out.Printf(" (%d error line(s) recorded)", n)
			}
			e.out.Println()
			return nil
		}),
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the plugin's errors can be ignored")
	return cmd
}

func newUnresolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unresolve <plugin>",
		Short: "Count a resolved plugin's log errors again",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			removed, err := e.sess.Unresolve(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not marked as resolved", args[0])
			}
			e.out.Printf("Removed resolved marker of %s\n", args[0])
			return nil
		}),
	}
}

func newResolvedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolved",
		Short: "List plugins marked as resolved",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			entries, err := e.sess.Resolved()
			if err != nil {
				return err
			}
			return e.out.Write(resolvedList(entries))
		}),
	}
}

package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past batches, tests and health checks",
		Long: `Show the run journal. Every test, batch and health check is recorded in a
sqlite database next to the test status files unless history.driver is
"none".

Examples:
  wpguard history batches
  wpguard history tests --plugin broken-seo
  wpguard history health --limit 50
  wpguard history prune --older-than 2160h`,
	}

	cmd.AddCommand(newHistoryBatchesCmd())
	cmd.AddCommand(newHistoryTestsCmd())
	cmd.AddCommand(newHistoryHealthCmd())
	cmd.AddCommand(newHistoryPruneCmd())

	return cmd
}

// journal returns the session's journal or an error when history is off.
func journal(e *env) (*history.Journal, error) {
	j := e.sess.Journal()
	if j == nil {
		return nil, errors.New("history is disabled (set history.driver to sqlite)")
	}
	return j, nil
}

func newHistoryBatchesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List recorded batches, newest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			j, err := journal(e)
			if err != nil {
				return err
			}
			entries, err := j.Batches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return e.out.Write(batchHistory(entries))
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func newHistoryTestsCmd() *cobra.Command {
	var q history.TestQuery

	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List recorded plugin tests, newest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			j, err := journal(e)
			if err != nil {
				return err
			}
			entries, err := j.Tests(cmd.Context(), q)
			if err != nil {
				return err
			}
			return e.out.Write(testHistory(entries))
		}),
	}

	cmd.Flags().StringVarP(&q.Plugin, "plugin", "p", "", "Only tests of this plugin")
	cmd.Flags().StringVar(&q.BatchID, "batch", "", "Only tests of this batch")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func newHistoryHealthCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "health",
		Short: "List recorded health checks, newest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			j, err := journal(e)
			if err != nil {
				return err
			}
			entries, err := j.HealthChecks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return e.out.Write(healthHistory(entries))
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func newHistoryPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than a given age",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			j, err := journal(e)
			if err != nil {
				return err
			}
			n, err := j.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if e.out.Structured() {
				return e.out.Write(map[string]int64{"deleted": n})
			}
			e.out.Printf("Deleted %d journal entries older than %s\n", n, olderThan)
			return nil
		}),
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Age of the entries to delete")
	return cmd
}

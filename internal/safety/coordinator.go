package safety

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/types"
)

// BatchReport aggregates a batch run.
type BatchReport struct {
	ID                   string       `json:"id" yaml:"id"`
	TotalTested          int          `json:"total_tested" yaml:"total_tested"`
	SuccessfulTests      int          `json:"successful_tests" yaml:"successful_tests"`
	ProblematicPlugins   []string     `json:"problematic_plugins" yaml:"problematic_plugins"`
	DetailedResults      []TestResult `json:"detailed_results" yaml:"detailed_results"`
	InitialActivePlugins []string     `json:"initial_active_plugins" yaml:"initial_active_plugins"`
	Requested            []string     `json:"requested" yaml:"requested"`
	AutoRollback         bool         `json:"auto_rollback" yaml:"auto_rollback"`
	Stopped              bool         `json:"stopped" yaml:"stopped"`
	StartedAt            time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt           time.Time    `json:"finished_at" yaml:"finished_at"`
}

// BatchOutcome is delivered by StartBatch.
type BatchOutcome struct {
	Report BatchReport
	Err    error
}

// Coordinator runs single tests, batches, backups and restores, one at a
// time.
type Coordinator struct {
	orch       *Orchestrator
	plugins    PluginController
	backups    *backup.Manager
	guard      *Guard
	aggressive bool
	stop       atomic.Bool
	now        func() time.Time
	log        zerolog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAggressiveEscalation deactivates every plugin flagged earlier in the
// batch when a rollback fails to restore health. Enabled by default.
func WithAggressiveEscalation(enabled bool) CoordinatorOption {
	return func(c *Coordinator) { c.aggressive = enabled }
}

// WithGuard shares an in-flight guard with other components.
func WithGuard(g *Guard) CoordinatorOption {
	return func(c *Coordinator) { c.guard = g }
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates a coordinator. backups may be nil when snapshots
// are not persisted.
func NewCoordinator(orch *Orchestrator, backups *backup.Manager, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		orch:       orch,
		plugins:    orch.plugins,
		backups:    backups,
		guard:      &Guard{},
		aggressive: true,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Guard returns the coordinator's in-flight guard.
func (c *Coordinator) Guard() *Guard {
	return c.guard
}

// Do runs fn under the in-flight guard, returning ErrBusy while another
// operation holds it.
func (c *Coordinator) Do(op string, fn func() error) error {
	release, err := c.guard.Acquire(op)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Stop asks a running batch to finish after the current plugin.
func (c *Coordinator) Stop() {
	c.stop.Store(true)
	c.log.Info().Msg("stop requested, batch ends after the current plugin")
}

// TestPlugin runs a single guarded test.
func (c *Coordinator) TestPlugin(ctx context.Context, name, url string, mode RollbackMode, confirm Confirmer) (TestResult, error) {
	release, err := c.guard.Acquire("test " + name)
	if err != nil {
		return TestResult{}, err
	}
	defer release()
	return c.orch.Test(ctx, name, url, mode, confirm)
}

// TestBatch tests names in order. Plugins that fail or cannot be tested are
// reported as problematic; the batch itself fails only when the initial
// plugin list cannot be read.
func (c *Coordinator) TestBatch(ctx context.Context, names []string, url string, autoRollback bool) (BatchReport, error) {
	release, err := c.guard.Acquire(fmt.Sprintf("batch of %d plugins", len(names)))
	if err != nil {
		return BatchReport{}, err
	}
	defer release()
	c.stop.Store(false)
	return c.runBatch(ctx, names, url, autoRollback)
}

// StartBatch runs TestBatch on a worker goroutine. ErrBusy is returned
// synchronously; the outcome arrives on the channel, which is then closed.
func (c *Coordinator) StartBatch(ctx context.Context, names []string, url string, autoRollback bool) (<-chan BatchOutcome, error) {
	release, err := c.guard.Acquire(fmt.Sprintf("batch of %d plugins", len(names)))
	if err != nil {
		return nil, err
	}
	c.stop.Store(false)

	out := make(chan BatchOutcome, 1)
	go func() {
		defer close(out)
		defer release()
		report, err := c.runBatch(ctx, names, url, autoRollback)
		out <- BatchOutcome{Report: report, Err: err}
	}()
	return out, nil
}

func (c *Coordinator) runBatch(ctx context.Context, names []string, url string, autoRollback bool) (report BatchReport, err error) {
	report = BatchReport{
		ID:                 uuid.NewString(),
		Requested:          append([]string{}, names...),
		AutoRollback:       autoRollback,
		ProblematicPlugins: []string{},
		DetailedResults:    []TestResult{},
		StartedAt:          c.now(),
	}
	defer func() { report.FinishedAt = c.now() }()

	initial, err := c.plugins.List(ctx, types.FilterAll)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrNoInitialPlugins, err)
	}
	if len(initial) == 0 {
		return report, ErrNoInitialPlugins
	}
	report.InitialActivePlugins = []string{}
	for _, p := range initial {
		if p.Status.IsActive() {
			report.InitialActivePlugins = append(report.InitialActivePlugins, p.Name)
		}
	}
	sort.Strings(report.InitialActivePlugins)

	mode := RollbackNone
	if autoRollback {
		mode = RollbackAuto
	}

	log := c.log.With().Str("batch", report.ID).Logger()
	log.Info().Int("plugins", len(names)).Bool("auto_rollback", autoRollback).Msg("batch started")

	for _, name := range names {
		if c.stop.Load() || ctx.Err() != nil {
			report.Stopped = true
			log.Info().Str("next", name).Msg("batch stopped")
			break
		}

		// A started plugin sequence always runs to completion.
		res, err := c.orch.Test(context.WithoutCancel(ctx), name, url, mode, nil)
		if err != nil {
			log.Warn().Err(err).Str("plugin", name).Msg("plugin test could not complete")
			res.TestPassed = false
			report.ProblematicPlugins = append(report.ProblematicPlugins, name)
		} else if !res.TestPassed {
			report.ProblematicPlugins = append(report.ProblematicPlugins, name)
		}

		if res.RollbackFailed() && c.aggressive {
			c.escalate(ctx, log, report.ProblematicPlugins)
			res.Escalated = true
		}

		report.DetailedResults = append(report.DetailedResults, res)
		if res.TestPassed {
			report.SuccessfulTests++
		}
	}
	report.TotalTested = len(report.DetailedResults)

	log.Info().
		Int("tested", report.TotalTested).
		Int("passed", report.SuccessfulTests).
		Strs("problematic", report.ProblematicPlugins).
		Bool("stopped", report.Stopped).
		Msg("batch finished")
	return report, nil
}

// escalate deactivates every plugin flagged so far in the batch.
func (c *Coordinator) escalate(ctx context.Context, log zerolog.Logger, flagged []string) {
	log.Warn().Strs("plugins", flagged).Msg("rollback did not restore health, deactivating all flagged plugins")
	for _, name := range flagged {
		if o := c.plugins.Deactivate(context.WithoutCancel(ctx), name); !o.Succeeded() {
			log.Error().Str("plugin", name).Str("message", o.Message).Msg("escalation deactivation failed")
		}
	}
}

// CreateBackup captures the current activation set and persists it when a
// backup manager is configured.
func (c *Coordinator) CreateBackup(ctx context.Context, note string) (*backup.Snapshot, error) {
	release, err := c.guard.Acquire("backup")
	if err != nil {
		return nil, err
	}
	defer release()

	mgr := c.backups
	if mgr == nil {
		mgr = backup.NewManagerWithDir("", "")
	}
	snap, err := mgr.Capture(ctx, c.plugins, note)
	if err != nil {
		return nil, err
	}
	if c.backups != nil {
		if err := c.backups.Save(snap); err != nil {
			return snap, err
		}
	}
	c.log.Info().Str("snapshot", snap.ID).Int("active", len(snap.ActivePlugins)).Msg("backup created")
	return snap, nil
}

// RestoreBackup restores snap under the guard.
func (c *Coordinator) RestoreBackup(ctx context.Context, snap *backup.Snapshot) (*backup.RestoreReport, error) {
	release, err := c.guard.Acquire("restore")
	if err != nil {
		return nil, err
	}
	defer release()

	report, err := backup.Restore(context.WithoutCancel(ctx), c.plugins, snap, c.log)
	if err != nil {
		return report, err
	}
	if c.orch.store != nil {
		if _, err := c.orch.store.Reconcile(report.ActiveAfter); err != nil {
			c.log.Error().Err(err).Msg("failed to reconcile resolved plugins after restore")
		}
	}
	return report, nil
}

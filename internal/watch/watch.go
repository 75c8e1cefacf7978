// Package watch runs health probes and plugin batches on cron schedules.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/safety"
)

// Runner is the part of session.Session the watcher drives.
type Runner interface {
	Health(ctx context.Context, url string) (health.Result, error)
	BatchCandidates(ctx context.Context, inactiveOnly bool) ([]string, error)
	Batch(ctx context.Context, names []string, url string, autoRollback bool) (safety.BatchReport, error)
}

// Config selects what runs and when. Schedules use the standard five-field
// cron syntax or descriptors such as "@every 5m".
type Config struct {
	HealthSchedule string
	BatchSchedule  string
	InactiveOnly   bool
	AutoRollback   bool
	URL            string
	Timezone       string
}

// Stats counts runs since the watcher started.
type Stats struct {
	HealthRuns    int       `json:"health_runs" yaml:"health_runs"`
	HealthFailing bool      `json:"health_failing" yaml:"health_failing"`
	Transitions   int       `json:"transitions" yaml:"transitions"`
	BatchRuns     int       `json:"batch_runs" yaml:"batch_runs"`
	BatchSkipped  int       `json:"batch_skipped" yaml:"batch_skipped"`
	LastRun       time.Time `json:"last_run" yaml:"last_run"`
}

// Watcher owns a cron scheduler.
type Watcher struct {
	runner Runner
	cfg    Config
	cron   *cron.Cron
	log    zerolog.Logger
	now    func() time.Time

	onHealth func(health.Result, error)
	onBatch  func(safety.BatchReport, error)

	mu    sync.Mutex
	stats Stats
	seen  bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// OnHealth is called after every scheduled probe.
func OnHealth(fn func(health.Result, error)) Option {
	return func(w *Watcher) { w.onHealth = fn }
}

// OnBatch is called after every scheduled batch.
func OnBatch(fn func(safety.BatchReport, error)) Option {
	return func(w *Watcher) { w.onBatch = fn }
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedules and registers the jobs. At least one schedule
// is required.
func New(r Runner, cfg Config, opts ...Option) (*Watcher, error) {
	if cfg.HealthSchedule == "" && cfg.BatchSchedule == "" {
		return nil, errors.New("nothing to watch: set a health or batch schedule")
	}

	w := &Watcher{runner: r, cfg: cfg, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	logger := cronLogger{log: w.log}
	w.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if cfg.HealthSchedule != "" {
		if _, err := w.cron.AddFunc(cfg.HealthSchedule, func() { w.RunHealth(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid health schedule %q: %w", cfg.HealthSchedule, err)
		}
	}
	if cfg.BatchSchedule != "" {
		if _, err := w.cron.AddFunc(cfg.BatchSchedule, func() { w.RunBatch(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid batch schedule %q: %w", cfg.BatchSchedule, err)
		}
	}
	return w, nil
}

// Next returns the next fire time of each job, in registration order.
func (w *Watcher) Next() []time.Time {
	entries := w.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		next := e.Next
		if next.IsZero() {
			next = e.Schedule.Next(w.now())
		}
		out = append(out, next)
	}
	return out
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (w *Watcher) Run(ctx context.Context) error {
	w.cron.Start()
	w.log.Info().
		Str("health", w.cfg.HealthSchedule).
		Str("batch", w.cfg.BatchSchedule).
		Msg("watch started")

	<-ctx.Done()
	done := w.cron.Stop()
	<-done.Done()
	w.log.Info().Msg("watch stopped")
	return nil
}

// Stats returns a copy of the run counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// RunHealth performs one probe and logs health transitions.
func (w *Watcher) RunHealth(ctx context.Context) {
	res, err := w.runner.Health(ctx, w.cfg.URL)
	failing := err != nil || !res.Healthy()

	w.mu.Lock()
	w.stats.HealthRuns++
	w.stats.LastRun = w.now()
	changed := w.seen && failing != w.stats.HealthFailing
	if changed {
		w.stats.Transitions++
	}
	w.stats.HealthFailing = failing
	w.seen = true
	w.mu.Unlock()

	switch {
	case err != nil:
		w.log.Error().Err(err).Msg("scheduled health probe failed")
	case changed && failing:
		w.log.Warn().Int("status", res.StatusCode).Strs("errors", res.ErrorDetails).Msg("site became unhealthy")
	case changed:
		w.log.Info().Int("status", res.StatusCode).Msg("site recovered")
	default:
		w.log.Debug().Int("status", res.StatusCode).Bool("healthy", !failing).Msg("scheduled health probe")
	}

	if w.onHealth != nil {
		w.onHealth(res, err)
	}
}

// RunBatch tests the candidate plugins once. A site that is already
// failing is not tested.
func (w *Watcher) RunBatch(ctx context.Context) {
	w.mu.Lock()
	failing := w.stats.HealthFailing
	w.stats.LastRun = w.now()
	w.mu.Unlock()

	if failing {
		w.skipBatch("site is unhealthy")
		return
	}

	names, err := w.runner.BatchCandidates(ctx, w.cfg.InactiveOnly)
	if err != nil {
		w.log.Error().Err(err).Msg("could not select plugins for scheduled batch")
		w.finishBatch(safety.BatchReport{}, err)
		return
	}
	if len(names) == 0 {
		w.skipBatch("no candidate plugins")
		return
	}

	report, err := w.runner.Batch(ctx, names, w.cfg.URL, w.cfg.AutoRollback)
	if errors.Is(err, safety.ErrBusy) {
		w.skipBatch("another operation is running")
		return
	}
	if err != nil {
		w.log.Error().Err(err).Msg("scheduled batch failed")
	} else {
		w.log.Info().
			Str("batch", report.ID).
			Int("tested", report.TotalTested).
			Strs("problematic", report.ProblematicPlugins).
			Msg("scheduled batch finished")
	}
	w.finishBatch(report, err)
}

func (w *Watcher) skipBatch(reason string) {
	w.mu.Lock()
	w.stats.BatchSkipped++
	w.mu.Unlock()
	w.log.Info().Str("reason", reason).Msg("scheduled batch skipped")
}

func (w *Watcher) finishBatch(report safety.BatchReport, err error) {
	w.mu.Lock()
	w.stats.BatchRuns++
	w.mu.Unlock()
	if w.onBatch != nil {
		w.onBatch(report, err)
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

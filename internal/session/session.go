// Package session wires the plugin adapter, health probe, state store,
// backups and run journal into one object that the commands talk to. Every
// method returns (payload, error) and converts panics into errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/config"
	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/history"
	"github.com/adamancini/wpguard/internal/remote"
	"github.com/adamancini/wpguard/internal/safety"
	"github.com/adamancini/wpguard/internal/state"
	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

// Session is the presentation surface over one WordPress site.
type Session struct {
	cfg     *config.Config
	exec    remote.Executor
	client  *wpcli.Client
	probe   *health.Prober
	store   *state.Store
	backups *backup.Manager
	orch    *safety.Orchestrator
	coord   *safety.Coordinator
	journal *history.Journal
	log     zerolog.Logger

	mu         sync.RWMutex
	lastHealth *health.Result
	lastTest   *safety.TestResult
	lastBatch  *safety.BatchReport
	current    *backup.Snapshot
}

type settings struct {
	httpClient *http.Client
	backupDir  string
	stateDir   string
	journal    *history.Journal
	sleep      func(ctx context.Context, d time.Duration) error
	version    string
}

// Option configures New.
type Option func(*settings)

// WithHTTPClient replaces the probe's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithBackupDir stores snapshots in dir instead of the cache directory.
func WithBackupDir(dir string) Option {
	return func(s *settings) { s.backupDir = dir }
}

// WithStateDir overrides the configured state directory.
func WithStateDir(dir string) Option {
	return func(s *settings) { s.stateDir = dir }
}

// WithJournal records runs in j. Nil disables history.
func WithJournal(j *history.Journal) Option {
	return func(s *settings) { s.journal = j }
}

// WithSleep replaces the settle wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) { s.sleep = fn }
}

// WithVersion stamps backups with the wpguard version.
func WithVersion(v string) Option {
	return func(s *settings) { s.version = v }
}

// Open connects to the configured channel, opens the journal and builds a
// session. Close releases both.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*Session, error) {
	exec, err := remote.Open(cfg.RemoteConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s channel: %w", cfg.Remote.Transport, err)
	}

	histPath, err := cfg.HistoryPath()
	if err != nil {
		_ = remote.Close(exec)
		return nil, err
	}
	var journal *history.Journal
	if histPath != "" {
		journal, err = history.Open(ctx, histPath, log.With().Str("component", "history").Logger())
		if err != nil {
			// The journal is optional; a broken one must not block plugin work.
			log.Warn().Err(err).Str("path", histPath).Msg("history disabled")
			journal = nil
		}
	}

	s, err := New(cfg, exec, log, append([]Option{WithJournal(journal)}, opts...)...)
	if err != nil {
		_ = journal.Close()
		_ = remote.Close(exec)
		return nil, err
	}
	return s, nil
}

// New builds a session over an existing executor.
func New(cfg *config.Config, exec remote.Executor, log zerolog.Logger, opts ...Option) (*Session, error) {
	st := settings{}
	for _, opt := range opts {
		opt(&st)
	}

	stateDir := st.stateDir
	if stateDir == "" {
		dir, err := cfg.StateDir()
		if err != nil {
			return nil, err
		}
		stateDir = dir
	}
	store, err := state.Open(stateDir, state.WithLogger(log.With().Str("component", "state").Logger()))
	if err != nil {
		return nil, err
	}

	var backups *backup.Manager
	if st.backupDir != "" {
		backups = backup.NewManagerWithDir(st.backupDir, st.version)
	} else {
		backups, err = backup.NewManager(st.version)
		if err != nil {
			return nil, err
		}
	}

	client := wpcli.New(exec, cfg.Site.Path,
		wpcli.WithLogger(log.With().Str("component", "wpcli").Logger()),
		wpcli.WithTimeouts(wpcli.Timeouts{Mutation: cfg.Safety.MutationTimeout.Std()}),
	)

	probeOpts := []health.Option{
		health.WithSiteURL(cfg.Site.URL),
		health.WithResolver(client),
		health.WithDebugLog(exec, cfg.DebugLogPath()),
		health.WithLineFilter(store),
		health.WithInsecureTLS(cfg.Site.InsecureTLS),
		health.WithLogger(log.With().Str("component", "health").Logger()),
	}
	if d := cfg.Safety.ProbeTimeout.Std(); d > 0 {
		probeOpts = append(probeOpts, health.WithTimeout(d))
	}
	if st.httpClient != nil {
		probeOpts = append(probeOpts, health.WithHTTPClient(st.httpClient))
	}
	probe := health.New(probeOpts...)

	orchOpts := []safety.OrchestratorOption{
		safety.WithSettlePolicy(safety.SettlePolicy{
			Delay:   cfg.Safety.SettleDelay.Std(),
			Retries: cfg.Safety.SettleRetries,
			Backoff: cfg.Safety.SettleBackoff.Std(),
		}),
		safety.WithLogger(log.With().Str("component", "safety").Logger()),
	}
	if st.sleep != nil {
		orchOpts = append(orchOpts, safety.WithSleep(st.sleep))
	}
	orch := safety.NewOrchestrator(client, probe, store, orchOpts...)
	coord := safety.NewCoordinator(orch, backups,
		safety.WithAggressiveEscalation(cfg.Safety.AggressiveEscalation),
		safety.WithCoordinatorLogger(log.With().Str("component", "batch").Logger()),
	)

	return &Session{
		cfg:     cfg,
		exec:    exec,
		client:  client,
		probe:   probe,
		store:   store,
		backups: backups,
		orch:    orch,
		coord:   coord,
		journal: st.journal,
		log:     log,
	}, nil
}

// Close releases the journal and the remote channel.
func (s *Session) Close() error {
	return errors.Join(s.journal.Close(), remote.Close(s.exec))
}

// Config returns the configuration the session was built from.
func (s *Session) Config() *config.Config { return s.cfg }

// Backups returns the on-disk snapshot manager.
func (s *Session) Backups() *backup.Manager { return s.backups }

// Journal returns the run journal, nil when history is disabled.
func (s *Session) Journal() *history.Journal { return s.journal }

// LastHealth returns the most recent probe result, if any.
func (s *Session) LastHealth() (health.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastHealth == nil {
		return health.Result{}, false
	}
	return *s.lastHealth, true
}

// LastTest returns the most recent single-plugin test, if any.
func (s *Session) LastTest() (safety.TestResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastTest == nil {
		return safety.TestResult{}, false
	}
	return *s.lastTest, true
}

// LastBatch returns the most recent batch report, if any.
func (s *Session) LastBatch() (safety.BatchReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBatch == nil {
		return safety.BatchReport{}, false
	}
	return *s.lastBatch, true
}

// CurrentBackup returns the snapshot taken or restored in this session.
func (s *Session) CurrentBackup() (*backup.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// call runs fn and turns a panic into an error.
func call[T any](s *Session, op string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("op", op).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("recovered from panic")
			err = fmt.Errorf("%s: internal error: %v", op, r)
		}
	}()
	return fn()
}

// Plugins lists plugins with their persisted test status. When WP-CLI is
// unavailable the plugin directory is listed instead, with unknown status.
func (s *Session) Plugins(ctx context.Context, filter types.ListFilter) ([]wpcli.Plugin, error) {
	return call(s, "list", func() ([]wpcli.Plugin, error) {
		plugins, err := s.client.List(ctx, filter)
		if errors.Is(err, wpcli.ErrToolUnavailable) {
			s.log.Warn().Msg("WP-CLI unavailable, listing plugin directory")
			plugins, err = s.client.ListFromFilesystem(ctx)
		}
		if err != nil {
			return nil, err
		}
		for i := range plugins {
			plugins[i].TestStatus = s.store.TestStatus(plugins[i].Name)
		}
		return plugins, nil
	})
}

// Available reports whether WP-CLI answers on the remote host.
func (s *Session) Available(ctx context.Context) (bool, error) {
	return call(s, "available", func() (bool, error) {
		return s.client.Available(ctx), nil
	})
}

// SiteInfo returns core version, URL, title and debug flag.
func (s *Session) SiteInfo(ctx context.Context) (wpcli.SiteInfo, error) {
	return call(s, "site info", func() (wpcli.SiteInfo, error) {
		return s.client.SiteInfo(ctx)
	})
}

// Info returns a plugin's details.
func (s *Session) Info(ctx context.Context, name string) (wpcli.Details, error) {
	return call(s, "info", func() (wpcli.Details, error) {
		return s.client.Info(ctx, name)
	})
}

// Search queries the plugin directory.
func (s *Session) Search(ctx context.Context, term string, limit int) ([]wpcli.SearchResult, error) {
	return call(s, "search", func() ([]wpcli.SearchResult, error) {
		return s.client.Search(ctx, term, limit)
	})
}

// UpdatesAvailable lists plugins with a pending update.
func (s *Session) UpdatesAvailable(ctx context.Context) ([]wpcli.Plugin, error) {
	return call(s, "updates", func() ([]wpcli.Plugin, error) {
		return s.client.UpdatesAvailable(ctx)
	})
}

// Activate activates a plugin without testing it.
func (s *Session) Activate(ctx context.Context, name string) (wpcli.Outcome, error) {
	return s.mutation(ctx, "activate", func(ctx context.Context) wpcli.Outcome {
		return s.client.Activate(ctx, name)
	})
}

// Deactivate deactivates a plugin.
func (s *Session) Deactivate(ctx context.Context, name string) (wpcli.Outcome, error) {
	return s.mutation(ctx, "deactivate", func(ctx context.Context) wpcli.Outcome {
		return s.client.Deactivate(ctx, name)
	})
}

// Install installs a plugin from the directory, optionally activating it.
func (s *Session) Install(ctx context.Context, slug string, activate bool) (wpcli.Outcome, error) {
	return s.mutation(ctx, "install", func(ctx context.Context) wpcli.Outcome {
		return s.client.Install(ctx, slug, activate)
	})
}

// Uninstall removes a plugin, deactivating it first when asked.
func (s *Session) Uninstall(ctx context.Context, name string, deactivateFirst bool) (wpcli.Outcome, error) {
	return s.mutation(ctx, "uninstall", func(ctx context.Context) wpcli.Outcome {
		return s.client.Uninstall(ctx, name, deactivateFirst)
	})
}

// Update updates one plugin, or all of them when name is empty.
func (s *Session) Update(ctx context.Context, name string) (wpcli.Outcome, error) {
	return s.mutation(ctx, "update", func(ctx context.Context) wpcli.Outcome {
		return s.client.Update(ctx, name)
	})
}

// FlushCache flushes the object cache and rewrite rules.
func (s *Session) FlushCache(ctx context.Context) (wpcli.Outcome, error) {
	return call(s, "flush cache", func() (o wpcli.Outcome, err error) {
		err = s.coord.Do("flush cache", func() error {
			o = s.client.FlushCache(ctx)
			return o.Err()
		})
		return o, err
	})
}

// mutation runs a status-changing command under the in-flight guard and
// clears resolved markers of plugins that are active afterwards.
func (s *Session) mutation(ctx context.Context, op string, fn func(context.Context) wpcli.Outcome) (wpcli.Outcome, error) {
	return call(s, op, func() (o wpcli.Outcome, err error) {
		err = s.coord.Do(op, func() error {
			o = fn(ctx)
			s.reconcile(ctx)
			return o.Err()
		})
		return o, err
	})
}

func (s *Session) reconcile(ctx context.Context) {
	active, err := s.client.ActiveNames(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("skipping resolved reconcile")
		return
	}
	if removed, err := s.store.Reconcile(active); err != nil {
		s.log.Error().Err(err).Msg("failed to reconcile resolved plugins")
	} else if len(removed) > 0 {
		s.log.Info().Strs("plugins", removed).Msg("cleared resolved markers of active plugins")
	}
}

// Health probes the site and journals the result.
func (s *Session) Health(ctx context.Context, url string) (health.Result, error) {
	return call(s, "health", func() (health.Result, error) {
		res, err := s.probe.Check(ctx, url)
		if err != nil {
			return res, err
		}
		s.mu.Lock()
		s.lastHealth = &res
		s.mu.Unlock()
		s.record(s.journal.RecordHealth(ctx, res))
		return res, nil
	})
}

// Logs returns the last n lines of the debug log.
func (s *Session) Logs(ctx context.Context, n int) ([]string, error) {
	return call(s, "logs", func() ([]string, error) {
		return s.probe.Tail(ctx, s.cfg.DebugLogPath(), n)
	})
}

// LogErrors returns recent error lines of the debug log, minus lines
// attributed to resolved plugins.
func (s *Session) LogErrors(ctx context.Context) (health.LogCheck, error) {
	return call(s, "log errors", func() (health.LogCheck, error) {
		return s.probe.CheckErrorLogs(ctx, s.cfg.DebugLogPath(), 0)
	})
}

// ClearLogs truncates the debug log.
func (s *Session) ClearLogs(ctx context.Context) (string, error) {
	return call(s, "clear logs", func() (string, error) {
		path := s.cfg.DebugLogPath()
		return path, s.probe.ClearLog(ctx, path)
	})
}

// Test runs a guarded safety test of one plugin.
func (s *Session) Test(ctx context.Context, name, url string, mode safety.RollbackMode, confirm safety.Confirmer) (safety.TestResult, error) {
	return call(s, "test", func() (safety.TestResult, error) {
		res, err := s.coord.TestPlugin(ctx, name, url, mode, confirm)
		if errors.Is(err, safety.ErrBusy) {
			return res, err
		}
		s.mu.Lock()
		s.lastTest = &res
		s.mu.Unlock()
		if res.PluginName != "" {
			s.record(s.journal.RecordTest(ctx, res))
		}
		return res, err
	})
}

// Batch tests names in order.
func (s *Session) Batch(ctx context.Context, names []string, url string, autoRollback bool) (safety.BatchReport, error) {
	return call(s, "batch", func() (safety.BatchReport, error) {
		report, err := s.coord.TestBatch(ctx, names, url, autoRollback)
		if err != nil {
			return report, err
		}
		s.storeBatch(ctx, report)
		return report, nil
	})
}

// StartBatch runs a batch in the background. The outcome is recorded like
// Batch before it is delivered.
func (s *Session) StartBatch(ctx context.Context, names []string, url string, autoRollback bool) (<-chan safety.BatchOutcome, error) {
	return call(s, "start batch", func() (<-chan safety.BatchOutcome, error) {
		in, err := s.coord.StartBatch(ctx, names, url, autoRollback)
		if err != nil {
			return nil, err
		}
		out := make(chan safety.BatchOutcome, 1)
		go func() {
			defer close(out)
			outcome := <-in
			if outcome.Err == nil {
				s.storeBatch(context.WithoutCancel(ctx), outcome.Report)
			}
			out <- outcome
		}()
		return out, nil
	})
}

func (s *Session) storeBatch(ctx context.Context, report safety.BatchReport) {
	s.mu.Lock()
	s.lastBatch = &report
	s.mu.Unlock()
	s.record(s.journal.RecordBatch(ctx, report))
}

// Stop asks a running batch to end after the current plugin.
func (s *Session) Stop() {
	s.coord.Stop()
}

// Busy reports the operation holding the guard, if any.
func (s *Session) Busy() (string, bool) {
	return s.coord.Guard().Busy()
}

// BatchCandidates selects plugins for test-all mode: every toggleable
// plugin, or only inactive ones.
func (s *Session) BatchCandidates(ctx context.Context, inactiveOnly bool) ([]string, error) {
	return call(s, "batch candidates", func() ([]string, error) {
		filter := types.FilterAll
		if inactiveOnly {
			filter = types.FilterInactive
		}
		plugins, err := s.client.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		names := []string{}
		for _, p := range plugins {
			if p.Status.IsToggleable() {
				names = append(names, p.Name)
			}
		}
		sort.Strings(names)
		return names, nil
	})
}

// CreateBackup snapshots the activation set and saves it to disk.
func (s *Session) CreateBackup(ctx context.Context, note string) (*backup.Snapshot, error) {
	return call(s, "backup", func() (*backup.Snapshot, error) {
		snap, err := s.coord.CreateBackup(ctx, note)
		if err != nil {
			return snap, err
		}
		s.mu.Lock()
		s.current = snap
		s.mu.Unlock()
		return snap, nil
	})
}

// Restore returns the site to snap's activation set.
func (s *Session) Restore(ctx context.Context, snap *backup.Snapshot) (*backup.RestoreReport, error) {
	return call(s, "restore", func() (*backup.RestoreReport, error) {
		if snap == nil {
			return nil, errors.New("no backup to restore")
		}
		report, err := s.coord.RestoreBackup(ctx, snap)
		if err != nil {
			return report, err
		}
		s.mu.Lock()
		s.current = snap
		s.mu.Unlock()
		return report, nil
	})
}

// ResolveBackup loads a snapshot by ID. "current" is the session's own
// snapshot and "latest" the newest one on disk.
func (s *Session) ResolveBackup(id string) (*backup.Snapshot, error) {
	return call(s, "load backup", func() (*backup.Snapshot, error) {
		if id == "current" {
			if snap, ok := s.CurrentBackup(); ok {
				return snap, nil
			}
			return nil, errors.New("no backup taken in this session")
		}
		return s.backups.Get(id)
	})
}

// Resolve marks a plugin as resolved so its log lines stop counting as
// errors.
func (s *Session) Resolve(ctx context.Context, name, reason string) (state.ResolvedEntry, error) {
	return call(s, "resolve", func() (state.ResolvedEntry, error) {
		var details []string
		if lc, err := s.probe.CheckErrorLogs(ctx, s.cfg.DebugLogPath(), 0); err == nil {
			for _, line := range lc.RecentErrors {
				if p, ok := state.PluginFromLine(line); ok && p == name {
					details = append(details, line)
				}
			}
		}
		// Lines of the plugin are already filtered once it is resolved, so
		// collect details before marking.
		if err := s.store.MarkResolved(name, reason, details); err != nil {
			return state.ResolvedEntry{}, err
		}
		for _, e := range s.store.Resolved() {
			if e.PluginName == name {
				return e, nil
			}
		}
		return state.ResolvedEntry{}, fmt.Errorf("resolved marker for %s not found", name)
	})
}

// Unresolve removes a resolved marker and reports whether one existed.
func (s *Session) Unresolve(name string) (bool, error) {
	return call(s, "unresolve", func() (bool, error) {
		return s.store.Unresolve(name)
	})
}

// Resolved lists resolved plugins.
func (s *Session) Resolved() ([]state.ResolvedEntry, error) {
	return call(s, "resolved", func() ([]state.ResolvedEntry, error) {
		return s.store.Resolved(), nil
	})
}

func (s *Session) record(err error) {
	if err != nil && !errors.Is(err, history.ErrDisabled) {
		s.log.Warn().Err(err).Msg("failed to write history")
	}
}

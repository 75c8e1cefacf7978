package safety

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/state"
	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
	"github.com/adamancini/wpguard/internal/wpcli/wpclitest"
)

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	site   *wpclitest.Site
	client *wpcli.Client
	store  *state.Store
	probe  *countingProbe
	url    string
}

// countingProbe wraps a HealthChecker and counts calls.
type countingProbe struct {
	mu    sync.Mutex
	next  HealthChecker
	calls int
}

func (p *countingProbe) Check(ctx context.Context, url string) (health.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.next.Check(ctx, url)
}

func (p *countingProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newFixture(t *testing.T, plugins ...string) *fixture {
	t.Helper()
	site := wpclitest.NewSite(plugins...)
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	store, err := state.Open(t.TempDir())
	require.NoError(t, err)

	return &fixture{
		site:   site,
		client: wpcli.New(site, "/var/www/html"),
		store:  store,
		probe:  &countingProbe{next: health.New()},
		url:    srv.URL,
	}
}

func (f *fixture) orchestrator(opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(f.client, f.probe, f.store, append([]OrchestratorOption{WithSleep(noSleep)}, opts...)...)
}

func TestBrokenPluginIsRolledBack(t *testing.T) {
	f := newFixture(t, "+akismet", "broken-seo")
	f.site.Broken["broken-seo"] = true
	var phases []Phase
	orch := f.orchestrator(WithPhaseHook(func(_ string, p Phase) { phases = append(phases, p) }))

	res, err := orch.Test(context.Background(), "broken-seo", f.url, RollbackAuto, nil)
	require.NoError(t, err)

	assert.True(t, res.ActivationSuccessful)
	assert.False(t, res.SiteAccessible)
	assert.False(t, res.TestPassed)
	assert.Equal(t, 500, res.StatusCode)
	assert.Equal(t, types.TestFailed, res.Classification)
	require.NotNil(t, res.AutoRollbackSuccessful)
	assert.True(t, *res.AutoRollbackSuccessful)
	assert.Equal(t, types.StatusInactive, f.site.Status("broken-seo"))
	assert.Equal(t, types.TestFailed, f.store.TestStatus("broken-seo"))
	assert.Equal(t, []Phase{
		PhaseUntested, PhasePreCheck, PhaseActivating, PhaseSettling,
		PhasePostCheck, PhaseFailed, PhaseRollingBack, PhaseRolledBack,
	}, phases)

	rec, ok := f.store.Record("broken-seo")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", rec.Version)
}

func TestHealthyPluginIsApproved(t *testing.T) {
	f := newFixture(t, "+akismet", "contact-form")
	orch := f.orchestrator()

	res, err := orch.Test(context.Background(), "contact-form", f.url, RollbackAuto, nil)
	require.NoError(t, err)
	assert.True(t, res.TestPassed)
	assert.Equal(t, types.TestApproved, res.Classification)
	assert.Nil(t, res.AutoRollbackSuccessful, "no rollback for a passing plugin")
	assert.Equal(t, types.StatusActive, f.site.Status("contact-form"))
	assert.Equal(t, types.TestApproved, f.store.TestStatus("contact-form"))
	assert.Equal(t, 1, f.site.Count("wp cache flush"))
}

func TestUnhealthyPreCheckFailsFast(t *testing.T) {
	f := newFixture(t, "+already-broken", "contact-form")
	f.site.Broken["already-broken"] = true
	orch := f.orchestrator()

	res, err := orch.Test(context.Background(), "contact-form", f.url, RollbackAuto, nil)
	require.ErrorIs(t, err, ErrSiteUnhealthy)
	assert.Equal(t, 0, f.site.Count("plugin activate"))
	assert.Equal(t, 1, f.probe.Calls())
	assert.NotEmpty(t, res.TestError)
	assert.Equal(t, types.TestUntested, f.store.TestStatus("contact-form"), "nothing persisted")
}

func TestPreCheckConnectivityIsAmbiguous(t *testing.T) {
	f := newFixture(t, "contact-form")
	srv := httptest.NewServer(f.site)
	srv.Close()
	orch := f.orchestrator()

	_, err := orch.Test(context.Background(), "contact-form", srv.URL, RollbackAuto, nil)
	var amb *AmbiguousHealthError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "pre-check", amb.Stage)
	var conn *health.ConnectivityError
	assert.ErrorAs(t, err, &conn)
	assert.Equal(t, 0, f.site.Count("plugin activate"))
}

func TestActivationFailureSkipsPostCheck(t *testing.T) {
	f := newFixture(t, "+akismet", "missing-file")
	f.site.FailActivate["missing-file"] = "Plugin file does not exist."
	orch := f.orchestrator()

	res, err := orch.Test(context.Background(), "missing-file", f.url, RollbackAuto, nil)
	require.Error(t, err)
	assert.True(t, wpcli.IsRejected(err))
	assert.False(t, res.ActivationSuccessful)
	assert.Equal(t, types.TestFailed, res.Classification)
	assert.Equal(t, 1, f.probe.Calls(), "pre-check only")
	assert.Equal(t, 0, f.site.Count("plugin deactivate"), "no rollback")
	assert.Equal(t, types.TestFailed, f.store.TestStatus("missing-file"))
}

// scriptedProbe returns canned results in order; the last one repeats.
type scriptedProbe struct {
	mu    sync.Mutex
	steps []probeStep
	calls int
}

type probeStep struct {
	res health.Result
	err error
}

func ok() probeStep { return probeStep{res: health.Result{Accessible: true, StatusCode: 200}} }

func down() probeStep {
	return probeStep{res: health.Result{StatusCode: 500, HasErrors: true, ErrorDetails: []string{"Internal server error (500)"}}}
}

func noisy() probeStep {
	return probeStep{res: health.Result{Accessible: true, StatusCode: 200, HasErrors: true, ErrorDetails: []string{"PHP Warning: deprecated"}}}
}

func unreachable() probeStep {
	return probeStep{err: &health.ConnectivityError{URL: "http://x", Err: errors.New("connection refused")}}
}

func (p *scriptedProbe) Check(context.Context, string) (health.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	return p.steps[i].res, p.steps[i].err
}

func TestClassificationFromPostCheck(t *testing.T) {
	tests := []struct {
		name string
		post probeStep
		want types.TestStatus
	}{
		{"approved", ok(), types.TestApproved},
		{"warning", noisy(), types.TestWarning},
		{"failed", down(), types.TestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := wpclitest.NewSite("plugin")
			probe := &scriptedProbe{steps: []probeStep{ok(), tt.post}}
			orch := NewOrchestrator(wpcli.New(site, ""), probe, nil, WithSleep(noSleep))

			res, err := orch.Test(context.Background(), "plugin", "http://x", RollbackNone, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Classification)
			assert.Equal(t, tt.want == types.TestApproved, res.TestPassed)
			assert.Equal(t, types.StatusActive, site.Status("plugin"), "RollbackNone leaves it active")
		})
	}
}

func TestAmbiguousPostCheckRollsBack(t *testing.T) {
	site := wpclitest.NewSite("plugin")
	probe := &scriptedProbe{steps: []probeStep{ok(), unreachable(), ok()}}
	orch := NewOrchestrator(wpcli.New(site, ""), probe, nil, WithSleep(noSleep))

	res, err := orch.Test(context.Background(), "plugin", "http://x", RollbackAuto, nil)
	var amb *AmbiguousHealthError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "post-check", amb.Stage)
	assert.Equal(t, types.TestFailed, res.Classification)
	require.NotNil(t, res.AutoRollbackSuccessful)
	assert.True(t, *res.AutoRollbackSuccessful)
	assert.Equal(t, types.StatusInactive, site.Status("plugin"))
}

func TestSettleRetries(t *testing.T) {
	site := wpclitest.NewSite("slow-cache")
	probe := &scriptedProbe{steps: []probeStep{ok(), down(), down(), ok()}}
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	orch := NewOrchestrator(wpcli.New(site, ""), probe, nil,
		WithSleep(sleep),
		WithSettlePolicy(SettlePolicy{Delay: time.Second, Retries: 2, Backoff: 500 * time.Millisecond}))

	res, err := orch.Test(context.Background(), "slow-cache", "http://x", RollbackAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, types.TestApproved, res.Classification)
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 2 * time.Second}, waits)
	assert.Equal(t, 4, probe.calls)
}

type answer bool

func (a answer) Confirm(string) bool { return bool(a) }

func TestRollbackAsk(t *testing.T) {
	for _, yes := range []bool{true, false} {
		site := wpclitest.NewSite("plugin")
		probe := &scriptedProbe{steps: []probeStep{ok(), down(), ok()}}
		orch := NewOrchestrator(wpcli.New(site, ""), probe, nil, WithSleep(noSleep))

		res, err := orch.Test(context.Background(), "plugin", "http://x", RollbackAsk, answer(yes))
		require.NoError(t, err)
		if yes {
			assert.Equal(t, types.StatusInactive, site.Status("plugin"))
			require.NotNil(t, res.AutoRollbackSuccessful)
		} else {
			assert.Equal(t, types.StatusActive, site.Status("plugin"))
			assert.Nil(t, res.AutoRollbackSuccessful)
		}
	}
}

func TestBatchWithOneFailure(t *testing.T) {
	f := newFixture(t, "+akismet", "a", "b", "c")
	f.site.Broken["b"] = true
	coord := NewCoordinator(f.orchestrator(), nil)

	report, err := coord.TestBatch(context.Background(), []string{"a", "b", "c"}, f.url, true)
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 3, report.TotalTested)
	assert.Equal(t, 2, report.SuccessfulTests)
	assert.Equal(t, []string{"b"}, report.ProblematicPlugins)
	assert.Equal(t, []string{"akismet"}, report.InitialActivePlugins)
	assert.False(t, report.Stopped)
	assert.Equal(t, []string{"a", "akismet", "c"}, f.site.Active())
	require.Len(t, report.DetailedResults, 3)
	assert.Equal(t, "b", report.DetailedResults[1].PluginName)
	require.NotNil(t, report.DetailedResults[1].AutoRollbackSuccessful)
	assert.True(t, *report.DetailedResults[1].AutoRollbackSuccessful)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestBatchTestErrorsAreProblematic(t *testing.T) {
	f := newFixture(t, "+akismet", "a", "ghost")
	f.site.FailActivate["ghost"] = "Plugin file does not exist."
	coord := NewCoordinator(f.orchestrator(), nil)

	report, err := coord.TestBatch(context.Background(), []string{"ghost", "a"}, f.url, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, report.ProblematicPlugins)
	assert.NotEmpty(t, report.DetailedResults[0].TestError)
	assert.Equal(t, 1, report.SuccessfulTests)
}

func TestBatchNeedsInitialList(t *testing.T) {
	f := newFixture(t)
	coord := NewCoordinator(f.orchestrator(), nil)

	_, err := coord.TestBatch(context.Background(), []string{"a"}, f.url, true)
	assert.ErrorIs(t, err, ErrNoInitialPlugins)
	_, busy := coord.Guard().Busy()
	assert.False(t, busy, "guard released on error")
}

func TestBatchEscalation(t *testing.T) {
	for _, aggressive := range []bool{true, false} {
		site := wpclitest.NewSite("+akismet", "a", "b")
		// a: fails, rollback heals. b: fails, rollback does not heal.
		probe := &scriptedProbe{steps: []probeStep{ok(), down(), ok(), ok(), down(), down()}}
		orch := NewOrchestrator(wpcli.New(site, ""), probe, nil, WithSleep(noSleep))
		coord := NewCoordinator(orch, nil, WithAggressiveEscalation(aggressive))

		report, err := coord.TestBatch(context.Background(), []string{"a", "b"}, "http://x", true)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, report.ProblematicPlugins)
		assert.True(t, report.DetailedResults[1].RollbackFailed())
		assert.Equal(t, aggressive, report.DetailedResults[1].Escalated)

		want := 1
		if aggressive {
			want = 2
		}
		assert.Equal(t, want, site.Count("plugin deactivate a"), "aggressive=%v", aggressive)
	}
}

func TestStopBetweenPlugins(t *testing.T) {
	f := newFixture(t, "+akismet", "a", "b", "c")
	var coord *Coordinator
	orch := f.orchestrator(WithPhaseHook(func(plugin string, p Phase) {
		if plugin == "a" && p == PhasePostCheck {
			coord.Stop()
		}
	}))
	coord = NewCoordinator(orch, nil)

	report, err := coord.TestBatch(context.Background(), []string{"a", "b", "c"}, f.url, true)
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.TotalTested, "in-flight plugin completes, the rest are skipped")
	assert.Equal(t, types.StatusActive, f.site.Status("a"))
	assert.Equal(t, types.StatusInactive, f.site.Status("b"))
}

func TestCancelBetweenPlugins(t *testing.T) {
	f := newFixture(t, "+akismet", "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	orch := f.orchestrator(WithPhaseHook(func(plugin string, p Phase) {
		if plugin == "a" && p == PhaseActivating {
			cancel()
		}
	}))
	coord := NewCoordinator(orch, nil)

	report, err := coord.TestBatch(ctx, []string{"a", "b"}, f.url, true)
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	require.Len(t, report.DetailedResults, 1)
	assert.True(t, report.DetailedResults[0].TestPassed, "a finishes despite cancellation")
}

// blockingProbe holds the first check until released.
type blockingProbe struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProbe) Check(context.Context, string) (health.Result, error) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return ok().res, nil
}

func TestGuardRejectsConcurrentWork(t *testing.T) {
	site := wpclitest.NewSite("+akismet", "a")
	probe := &blockingProbe{entered: make(chan struct{}), release: make(chan struct{})}
	coord := NewCoordinator(NewOrchestrator(wpcli.New(site, ""), probe, nil, WithSleep(noSleep)), nil)
	ctx := context.Background()

	done, err := coord.StartBatch(ctx, []string{"a"}, "http://x", true)
	require.NoError(t, err)
	<-probe.entered

	_, err = coord.TestPlugin(ctx, "a", "http://x", RollbackAuto, nil)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = coord.StartBatch(ctx, []string{"a"}, "http://x", true)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = coord.CreateBackup(ctx, "")
	assert.ErrorIs(t, err, ErrBusy)
	ran := false
	err = coord.Do("deactivate akismet", func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, ran)

	close(probe.release)
	outcome := <-done
	require.NoError(t, outcome.Err)
	assert.Equal(t, 1, outcome.Report.SuccessfulTests)
	assert.False(t, outcome.Report.FinishedAt.IsZero())

	_, err = coord.TestPlugin(ctx, "a", "http://x", RollbackAuto, nil)
	assert.NoError(t, err, "guard released after the batch")
	require.NoError(t, coord.Do("deactivate akismet", func() error { ran = true; return nil }))
	assert.True(t, ran)
}

// gatedPlugins holds List until the gate is closed.
type gatedPlugins struct {
	*wpcli.Client
	gate chan struct{}
}

func (g gatedPlugins) List(ctx context.Context, filter types.ListFilter) ([]wpcli.Plugin, error) {
	<-g.gate
	return g.Client.List(ctx, filter)
}

func TestStopBeforeWorkerRuns(t *testing.T) {
	site := wpclitest.NewSite("+akismet", "a", "b")
	srv := httptest.NewServer(site)
	defer srv.Close()
	plugins := gatedPlugins{Client: wpcli.New(site, ""), gate: make(chan struct{})}
	coord := NewCoordinator(NewOrchestrator(plugins, health.New(), nil, WithSleep(noSleep)), nil)

	done, err := coord.StartBatch(context.Background(), []string{"a", "b"}, srv.URL, true)
	require.NoError(t, err)
	coord.Stop()
	close(plugins.gate)

	outcome := <-done
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Report.Stopped)
	assert.Zero(t, outcome.Report.TotalTested)
	assert.Equal(t, []string{"akismet"}, site.Active())

	// The next batch starts with a cleared flag.
	report, err := coord.TestBatch(context.Background(), []string{"a"}, srv.URL, false)
	require.NoError(t, err)
	assert.False(t, report.Stopped)
	assert.Equal(t, 1, report.SuccessfulTests)
}

func TestGuardReleaseIdempotent(t *testing.T) {
	var g Guard
	release, err := g.Acquire("one")
	require.NoError(t, err)
	release()
	release()

	r2, err := g.Acquire("two")
	require.NoError(t, err)
	op, busy := g.Busy()
	assert.True(t, busy)
	assert.Equal(t, "two", op)
	r2()
}

func TestResolvedMarkerClearedOnActivation(t *testing.T) {
	f := newFixture(t, "+akismet", "old-gallery")
	require.NoError(t, f.store.MarkResolved("old-gallery", "deactivated after errors", nil))
	f.site.DebugLog = []string{"PHP Fatal error: Uncaught Error in /var/www/wp-content/plugins/old-gallery/g.php:3"}

	// While resolved and inactive, its old log lines do not fail the probe.
	f.probe.next = health.New(health.WithDebugLog(f.site, "/var/www/wp-content/debug.log"), health.WithLineFilter(f.store))
	pre, err := f.probe.Check(context.Background(), f.url)
	require.NoError(t, err)
	assert.True(t, pre.Healthy())

	f.site.DebugLog = nil
	res, err := f.orchestrator().Test(context.Background(), "old-gallery", f.url, RollbackAuto, nil)
	require.NoError(t, err)
	assert.True(t, res.TestPassed)
	assert.False(t, f.store.IsResolved("old-gallery"), "marker removed once the plugin is active")
}

func TestBackupRoundTripThroughCoordinator(t *testing.T) {
	f := newFixture(t, "+akismet", "+seo", "gallery")
	mgr := backup.NewManagerWithDir(t.TempDir(), "test")
	coord := NewCoordinator(f.orchestrator(), mgr)
	ctx := context.Background()

	snap, err := coord.CreateBackup(ctx, "before batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"akismet", "seo"}, snap.ActivePlugins)

	_, err = coord.TestBatch(ctx, []string{"gallery"}, f.url, true)
	require.NoError(t, err)
	f.site.SetStatus("seo", types.StatusInactive)

	saved, err := mgr.Get("latest")
	require.NoError(t, err)
	report, err := coord.RestoreBackup(ctx, saved)
	require.NoError(t, err)
	assert.True(t, report.Complete(saved))
	assert.Equal(t, []string{"akismet", "seo"}, f.site.Active())
}

// Testing the same plugin twice against the same site gives the same
// classification.
func TestClassificationIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		broken := rapid.Bool().Draw(t, "broken")
		rollback := rapid.Bool().Draw(t, "rollback")

		site := wpclitest.NewSite("+akismet", "plugin")
		site.Broken["plugin"] = broken
		srv := httptest.NewServer(site)
		defer srv.Close()
		orch := NewOrchestrator(wpcli.New(site, ""), health.New(), nil, WithSleep(noSleep))
		mode := RollbackNone
		if rollback {
			mode = RollbackAuto
		}

		first, err := orch.Test(context.Background(), "plugin", srv.URL, mode, nil)
		if err != nil {
			t.Fatalf("first test: %v", err)
		}
		if !rollback && broken {
			// Left active and broken: a second pre-check must refuse.
			if _, err := orch.Test(context.Background(), "plugin", srv.URL, mode, nil); !errors.Is(err, ErrSiteUnhealthy) {
				t.Fatalf("second test error = %v, want ErrSiteUnhealthy", err)
			}
			return
		}
		second, err := orch.Test(context.Background(), "plugin", srv.URL, mode, nil)
		if err != nil {
			t.Fatalf("second test: %v", err)
		}
		if first.Classification != second.Classification {
			t.Fatalf("classification %s then %s", first.Classification, second.Classification)
		}
	})
}

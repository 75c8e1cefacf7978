// Package safety tests plugin activations against the live site and rolls
// back the ones that break it.
//
// A single test walks PreCheck -> Activating -> Settling -> PostCheck and
// ends Approved, Warning or Failed, optionally followed by RollingBack ->
// RolledBack. A batch runs single tests strictly in sequence.
package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

// Phase is a state of the per-plugin test machine.
type Phase int

const (
	PhaseUntested Phase = iota
	PhasePreCheck
	PhaseActivating
	PhaseSettling
	PhasePostCheck
	PhaseApproved
	PhaseWarning
	PhaseFailed
	PhaseRollingBack
	PhaseRolledBack
)

var phaseNames = [...]string{
	"untested", "pre-check", "activating", "settling", "post-check",
	"approved", "warning", "failed", "rolling-back", "rolled-back",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// PluginController is the subset of wpcli.Client the orchestrator drives.
type PluginController interface {
	List(ctx context.Context, filter types.ListFilter) ([]wpcli.Plugin, error)
	Activate(ctx context.Context, name string) wpcli.Outcome
	Deactivate(ctx context.Context, name string) wpcli.Outcome
	FlushCache(ctx context.Context) wpcli.Outcome
}

// HealthChecker probes the site.
type HealthChecker interface {
	Check(ctx context.Context, url string) (health.Result, error)
}

// StatusRecorder persists classifications and clears stale resolved markers.
type StatusRecorder interface {
	SetTestStatus(name string, status types.TestStatus, version string) error
	Reconcile(active []string) ([]string, error)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(question string) bool
}

// RollbackMode selects what happens to a plugin that fails its test.
type RollbackMode int

const (
	// RollbackNone leaves the plugin active.
	RollbackNone RollbackMode = iota
	// RollbackAuto deactivates it.
	RollbackAuto
	// RollbackAsk asks the Confirmer.
	RollbackAsk
)

// SettlePolicy is the wait between activation and post-check. With Retries
// the post-check is repeated while the site looks unhealthy, waiting
// Delay + n*Backoff before retry n.
type SettlePolicy struct {
	Delay   time.Duration
	Retries int
	Backoff time.Duration
}

// DefaultSettlePolicy waits 3s and checks once.
func DefaultSettlePolicy() SettlePolicy {
	return SettlePolicy{Delay: 3 * time.Second}
}

// TestResult is the outcome of one plugin test.
type TestResult struct {
	PluginName             string           `json:"plugin_name" yaml:"plugin_name"`
	ActivationSuccessful   bool             `json:"activation_successful" yaml:"activation_successful"`
	AlreadyActive          bool             `json:"already_active,omitempty" yaml:"already_active,omitempty"`
	SiteAccessible         bool             `json:"site_accessible" yaml:"site_accessible"`
	ResponseTime           float64          `json:"response_time" yaml:"response_time"`
	StatusCode             int              `json:"status_code" yaml:"status_code"`
	HasErrors              bool             `json:"has_errors" yaml:"has_errors"`
	ErrorDetails           []string         `json:"error_details" yaml:"error_details"`
	TestPassed             bool             `json:"test_passed" yaml:"test_passed"`
	AutoRollbackSuccessful *bool            `json:"auto_rollback_successful,omitempty" yaml:"auto_rollback_successful,omitempty"`
	Escalated              bool             `json:"escalated,omitempty" yaml:"escalated,omitempty"`
	Classification         types.TestStatus `json:"classification" yaml:"classification"`
	Phase                  string           `json:"phase" yaml:"phase"`
	TestError              string           `json:"test_error,omitempty" yaml:"test_error,omitempty"`
	StartedAt              time.Time        `json:"started_at" yaml:"started_at"`
	Duration               time.Duration    `json:"duration" yaml:"duration"`
}

// RollbackFailed reports an attempted rollback that did not restore health.
func (r TestResult) RollbackFailed() bool {
	return r.AutoRollbackSuccessful != nil && !*r.AutoRollbackSuccessful
}

// Orchestrator runs the per-plugin test state machine.
type Orchestrator struct {
	plugins PluginController
	probe   HealthChecker
	store   StatusRecorder
	settle  SettlePolicy
	sleep   func(ctx context.Context, d time.Duration) error
	onPhase func(plugin string, p Phase)
	now     func() time.Time
	log     zerolog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSettlePolicy overrides the default settle policy.
func WithSettlePolicy(p SettlePolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.settle = p }
}

// WithSleep replaces the settle wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithPhaseHook is called on every phase transition.
func WithPhaseHook(fn func(plugin string, p Phase)) OrchestratorOption {
	return func(o *Orchestrator) { o.onPhase = fn }
}

// WithLogger sets the orchestrator logger.
func WithLogger(log zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator wires the adapter, probe and store. store may be nil.
func NewOrchestrator(plugins PluginController, probe HealthChecker, store StatusRecorder, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		plugins: plugins,
		probe:   probe,
		store:   store,
		settle:  DefaultSettlePolicy(),
		sleep:   sleepCtx,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) enter(res *TestResult, p Phase) {
	res.Phase = p.String()
	o.log.Debug().Str("plugin", res.PluginName).Str("phase", res.Phase).Msg("test phase")
	if o.onPhase != nil {
		o.onPhase(res.PluginName, p)
	}
}

// Test activates name and verifies the site. It returns an error only when
// the test could not complete: unhealthy or unknown pre-check, rejected
// activation, or unknown post-check. A completed test that fails is a
// TestResult with TestPassed false and a nil error.
func (o *Orchestrator) Test(ctx context.Context, name, url string, mode RollbackMode, confirm Confirmer) (res TestResult, err error) {
	res = TestResult{
		PluginName:     name,
		ErrorDetails:   []string{},
		Classification: types.TestUntested,
		StartedAt:      o.now(),
	}
	defer func() {
		res.Duration = o.now().Sub(res.StartedAt)
		if err != nil && res.TestError == "" {
			res.TestError = err.Error()
		}
	}()
	o.enter(&res, PhaseUntested)

	o.enter(&res, PhasePreCheck)
	pre, perr := o.probe.Check(ctx, url)
	if perr != nil {
		return res, &AmbiguousHealthError{Stage: "pre-check", Err: perr}
	}
	if !pre.Healthy() {
		return res, unhealthy(pre.ErrorDetails)
	}

	o.enter(&res, PhaseActivating)
	act := o.plugins.Activate(ctx, name)
	if !act.Succeeded() {
		res.Classification = types.TestFailed
		o.enter(&res, PhaseFailed)
		o.persist(ctx, name, types.TestFailed)
		return res, act.Err()
	}
	res.ActivationSuccessful = true
	res.AlreadyActive = act.Kind == wpcli.OutcomeAlreadyInState

	o.enter(&res, PhaseSettling)
	if fl := o.plugins.FlushCache(ctx); !fl.Succeeded() {
		o.log.Debug().Str("message", fl.Message).Msg("cache flush failed, continuing")
	}
	if err := o.sleep(ctx, o.settle.Delay); err != nil {
		o.log.Warn().Err(err).Str("plugin", name).Msg("settle wait interrupted")
	}

	o.enter(&res, PhasePostCheck)
	post, perr := o.postCheck(ctx, url)
	if perr != nil {
		res.Classification = types.TestFailed
		o.enter(&res, PhaseFailed)
		if o.shouldRollback(name, mode, confirm) {
			o.rollback(ctx, &res, url)
		}
		o.persist(ctx, name, types.TestFailed)
		return res, &AmbiguousHealthError{Stage: "post-check", Err: perr}
	}

	res.SiteAccessible = post.Accessible
	res.ResponseTime = post.ResponseTime
	res.StatusCode = post.StatusCode
	res.HasErrors = post.HasErrors
	res.ErrorDetails = post.ErrorDetails
	res.TestPassed = post.Healthy()
	res.Classification = classify(post)

	switch res.Classification {
	case types.TestApproved:
		o.enter(&res, PhaseApproved)
	case types.TestWarning:
		o.enter(&res, PhaseWarning)
	default:
		o.enter(&res, PhaseFailed)
	}
	o.log.Info().
		Str("plugin", name).
		Str("classification", res.Classification.String()).
		Int("status", res.StatusCode).
		Msg("plugin test classified")

	if !res.TestPassed && o.shouldRollback(name, mode, confirm) {
		o.rollback(ctx, &res, url)
	}
	o.persist(ctx, name, res.Classification)
	return res, nil
}

// classify maps a post-check result to a test status.
func classify(r health.Result) types.TestStatus {
	switch {
	case r.Healthy():
		return types.TestApproved
	case !r.Accessible:
		return types.TestFailed
	default:
		return types.TestWarning
	}
}

func (o *Orchestrator) postCheck(ctx context.Context, url string) (health.Result, error) {
	var (
		res health.Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = o.probe.Check(ctx, url)
		if (err == nil && res.Healthy()) || attempt >= o.settle.Retries {
			return res, err
		}
		wait := o.settle.Delay + time.Duration(attempt+1)*o.settle.Backoff
		o.log.Debug().Int("attempt", attempt+1).Dur("wait", wait).Msg("post-check unhealthy, re-probing")
		if serr := o.sleep(ctx, wait); serr != nil {
			return res, err
		}
	}
}

func (o *Orchestrator) shouldRollback(name string, mode RollbackMode, confirm Confirmer) bool {
	switch mode {
	case RollbackAuto:
		return true
	case RollbackAsk:
		return confirm != nil && confirm.Confirm(fmt.Sprintf("Plugin %q failed its safety test. Deactivate it now?", name))
	default:
		return false
	}
}

// rollback deactivates the plugin and re-probes. The outcome is recorded in
// AutoRollbackSuccessful.
func (o *Orchestrator) rollback(ctx context.Context, res *TestResult, url string) {
	o.enter(res, PhaseRollingBack)
	ok := false
	defer func() { res.AutoRollbackSuccessful = &ok }()

	if d := o.plugins.Deactivate(ctx, res.PluginName); !d.Succeeded() {
		o.log.Error().Str("plugin", res.PluginName).Str("message", d.Message).Msg("rollback deactivation failed")
		return
	}
	o.enter(res, PhaseRolledBack)

	after, err := o.probe.Check(ctx, url)
	ok = err == nil && after.Healthy()
	if ok {
		o.log.Info().Str("plugin", res.PluginName).Msg("rollback restored site health")
	} else {
		o.log.Warn().Err(err).Str("plugin", res.PluginName).Msg("site still unhealthy after rollback")
	}
}

// persist records the classification with the plugin's version and
// reconciles resolved markers against a fresh active set.
func (o *Orchestrator) persist(ctx context.Context, name string, status types.TestStatus) {
	if o.store == nil {
		return
	}

	version := ""
	plugins, err := o.plugins.List(ctx, types.FilterAll)
	if err != nil && !errors.Is(err, context.Canceled) {
		o.log.Debug().Err(err).Msg("could not refresh plugin list after test")
	}
	var active []string
	for _, p := range plugins {
		if p.Name == name {
			version = p.Version
		}
		if p.Status.IsActive() {
			active = append(active, p.Name)
		}
	}

	if err := o.store.SetTestStatus(name, status, version); err != nil {
		o.log.Error().Err(err).Str("plugin", name).Msg("failed to persist test status")
	}
	if len(active) > 0 {
		if _, err := o.store.Reconcile(active); err != nil {
			o.log.Error().Err(err).Msg("failed to reconcile resolved plugins")
		}
	}
}

// Package wpcli drives WP-CLI on the WordPress host through a remote
// executor. Read operations degrade through ordered parser tiers; mutations
// return a classified Outcome. When WP-CLI is unavailable every call fails
// closed instead of raising.
package wpcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/remote"
	"github.com/adamancini/wpguard/internal/types"
)

// ErrToolUnavailable is returned when WP-CLI is missing or broken.
var ErrToolUnavailable = errors.New("wp-cli is not available")

// Timeouts bounds each class of WP-CLI call.
type Timeouts struct {
	ListJSON    time.Duration
	ListTable   time.Duration
	ListMinimal time.Duration
	Search      time.Duration
	Mutation    time.Duration
	Install     time.Duration
	Query       time.Duration
}

// DefaultTimeouts returns the standard per-call deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ListJSON:    45 * time.Second,
		ListTable:   30 * time.Second,
		ListMinimal: 20 * time.Second,
		Search:      30 * time.Second,
		Mutation:    30 * time.Second,
		Install:     120 * time.Second,
		Query:       30 * time.Second,
	}
}

// Client is the plugin control adapter.
type Client struct {
	exec     remote.Executor
	path     string
	log      zerolog.Logger
	timeouts Timeouts

	mu        sync.Mutex
	checked   bool
	available bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTimeouts overrides the default timeouts. Zero fields keep defaults.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		d := DefaultTimeouts()
		c.timeouts = Timeouts{
			ListJSON:    orDuration(t.ListJSON, d.ListJSON),
			ListTable:   orDuration(t.ListTable, d.ListTable),
			ListMinimal: orDuration(t.ListMinimal, d.ListMinimal),
			Search:      orDuration(t.Search, d.Search),
			Mutation:    orDuration(t.Mutation, d.Mutation),
			Install:     orDuration(t.Install, d.Install),
			Query:       orDuration(t.Query, d.Query),
		}
	}
}

// New creates a client that runs WP-CLI inside wpPath.
func New(exec remote.Executor, wpPath string, opts ...Option) *Client {
	c := &Client{
		exec:     exec,
		path:     wpPath,
		log:      zerolog.Nop(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the WordPress installation path.
func (c *Client) Path() string {
	return c.path
}

func (c *Client) wp(args string) string {
	if c.path == "" {
		return "wp " + args
	}
	return fmt.Sprintf("cd %s && wp %s", remote.Quote(c.path), args)
}

// run executes a WP-CLI subcommand, keeping stdout and stderr apart.
func (c *Client) run(ctx context.Context, args string, timeout time.Duration) (string, error) {
	return c.exec.Execute(ctx, c.wp(args), timeout)
}

// runMerged executes a mutation with stderr folded into stdout so that
// "Warning: ... already active" and "Error: ..." lines reach classify.
func (c *Client) runMerged(ctx context.Context, args string, timeout time.Duration) (string, error) {
	return c.exec.Execute(ctx, c.wp(args)+" 2>&1", timeout)
}

// Available reports whether WP-CLI is installed and answers with a
// parseable core version. The check runs once per client.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checked {
		return c.available
	}

	c.available = c.probe(ctx)
	c.checked = true
	if c.available {
		c.log.Info().Str("path", c.path).Msg("wp-cli available")
	} else {
		c.log.Warn().Str("path", c.path).Msg("wp-cli unavailable, plugin operations will fail closed")
	}
	return c.available
}

// ResetAvailability forces the next call to re-check WP-CLI.
func (c *Client) ResetAvailability() {
	c.mu.Lock()
	c.checked = false
	c.mu.Unlock()
}

var availabilityErrors = []string{"error", "warning", "not found", "permission denied"}

func (c *Client) probe(ctx context.Context) bool {
	which, err := c.exec.Execute(ctx, "which wp", c.timeouts.Query)
	which = strings.TrimSpace(which)
	if err != nil || which == "" || strings.Contains(strings.ToLower(which), "not found") {
		c.log.Debug().Err(err).Str("which", which).Msg("wp binary not found")
		return false
	}

	out, err := c.run(ctx, "core version", c.timeouts.Query)
	if err != nil {
		c.log.Debug().Err(err).Msg("wp core version failed")
		return false
	}
	out = strings.TrimSpace(out)
	lower := strings.ToLower(out)
	for _, kw := range availabilityErrors {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	if _, err := ParseVersion(out); err != nil {
		c.log.Debug().Str("output", out).Msg("wp core version not parseable")
		return false
	}
	return true
}

// tier is one strategy for obtaining a list: a command shape, its deadline,
// and a pure parser for its output.
type tier[T any] struct {
	name    string
	args    string
	timeout time.Duration
	parse   func(raw string) ([]T, error)
}

// runTiers tries each tier once, in order, and returns the first parse that
// succeeds. The joined error describes every failed tier.
func runTiers[T any](ctx context.Context, c *Client, tiers []tier[T]) ([]T, error) {
	var errs []error
	for i, t := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := c.run(ctx, t.args, t.timeout)
		if err != nil {
			c.log.Debug().Err(err).Str("tier", t.name).Msg("wp-cli tier failed")
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		items, err := t.parse(raw)
		if err != nil {
			perr := &ParseError{Tier: t.name, Err: err}
			c.log.Debug().Err(perr).Msg("wp-cli tier unparseable")
			errs = append(errs, perr)
			continue
		}
		if i > 0 {
			c.log.Info().Str("tier", t.name).Int("items", len(items)).Msg("wp-cli fallback tier succeeded")
		}
		return items, nil
	}
	return nil, errors.Join(errs...)
}

// List returns installed plugins matching filter. It returns
// ErrToolUnavailable when WP-CLI is missing, and an empty slice with a nil
// error when every tier failed.
func (c *Client) List(ctx context.Context, filter types.ListFilter) ([]Plugin, error) {
	if !c.Available(ctx) {
		return nil, ErrToolUnavailable
	}
	filter = filter.Default()

	status := ""
	if filter != types.FilterAll {
		status = " --status=" + filter.String()
	}
	tiers := []tier[Plugin]{
		{name: "json", args: "plugin list" + status + " --format=json", timeout: c.timeouts.ListJSON, parse: parsePluginJSON},
		{name: "table", args: "plugin list" + status, timeout: c.timeouts.ListTable, parse: parsePluginTable},
		{name: "minimal", args: "plugin list", timeout: c.timeouts.ListMinimal, parse: parsePluginTable},
	}

	plugins, err := runTiers(ctx, c, tiers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn().Err(err).Str("filter", filter.String()).Msg("all plugin list tiers failed")
		return []Plugin{}, nil
	}
	return filterPlugins(plugins, filter), nil
}

func filterPlugins(plugins []Plugin, filter types.ListFilter) []Plugin {
	out := plugins[:0:0]
	for _, p := range plugins {
		if filter.Matches(p.Status) {
			out = append(out, p)
		}
	}
	return out
}

// ActiveNames returns the sorted names of active plugins, re-read from the
// host.
func (c *Client) ActiveNames(ctx context.Context) ([]string, error) {
	plugins, err := c.List(ctx, types.FilterActive)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(plugins))
	for _, p := range plugins {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Search queries the wordpress.org directory.
func (c *Client) Search(ctx context.Context, term string, limit int) ([]SearchResult, error) {
	if !c.Available(ctx) {
		return nil, ErrToolUnavailable
	}
	if limit <= 0 {
		limit = 10
	}
	base := fmt.Sprintf("plugin search %s --per-page=%d", remote.Quote(term), limit)
	tiers := []tier[SearchResult]{
		{name: "json", args: base + " --format=json", timeout: c.timeouts.Search, parse: parseSearchJSON},
		{name: "table", args: base, timeout: c.timeouts.Search, parse: parseSearchTable},
	}

	results, err := runTiers(ctx, c, tiers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn().Err(err).Str("term", term).Msg("all plugin search tiers failed")
		return []SearchResult{}, nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// mutate runs a state-changing command and classifies its output.
func (c *Client) mutate(ctx context.Context, args string, timeout time.Duration, alreadyPhrases ...string) (OutcomeKind, string, error) {
	if !c.Available(ctx) {
		return OutcomeFailed, "", ErrToolUnavailable
	}
	out, err := c.runMerged(ctx, args, timeout)
	if err != nil {
		return OutcomeFailed, out, err
	}
	return classify(out, alreadyPhrases...), strings.TrimSpace(out), nil
}

// Activate activates a plugin.
func (c *Client) Activate(ctx context.Context, name string) Outcome {
	kind, out, err := c.mutate(ctx, "plugin activate "+remote.Quote(name), c.timeouts.Mutation, "already active")
	switch {
	case err != nil:
		return failed(err, "failed to activate plugin %s: %v", name, err)
	case kind == OutcomeFailed:
		return failed(nil, "failed to activate plugin %s: %s", name, out)
	}
	c.log.Info().Str("plugin", name).Str("outcome", kind.String()).Msg("plugin activated")
	return outcome(kind, "plugin '%s' activated", name)
}

// Deactivate deactivates a plugin.
func (c *Client) Deactivate(ctx context.Context, name string) Outcome {
	kind, out, err := c.mutate(ctx, "plugin deactivate "+remote.Quote(name), c.timeouts.Mutation, "already inactive", "already deactivated")
	switch {
	case err != nil:
		return failed(err, "failed to deactivate plugin %s: %v", name, err)
	case kind == OutcomeFailed:
		return failed(nil, "failed to deactivate plugin %s: %s", name, out)
	}
	c.log.Info().Str("plugin", name).Str("outcome", kind.String()).Msg("plugin deactivated")
	return outcome(kind, "plugin '%s' deactivated", name)
}

// Install installs a plugin from the wordpress.org directory, a zip URL or a
// path, optionally activating it.
func (c *Client) Install(ctx context.Context, slug string, activate bool) Outcome {
	args := "plugin install " + remote.Quote(slug)
	verb := "installed"
	if activate {
		args += " --activate"
		verb = "installed and activated"
	}
	kind, out, err := c.mutate(ctx, args, c.timeouts.Install, "already installed")
	switch {
	case err != nil:
		return failed(err, "failed to install plugin %s: %v", slug, err)
	case kind == OutcomeFailed:
		return failed(nil, "failed to install plugin %s: %s", slug, out)
	}
	return outcome(kind, "plugin '%s' %s", slug, verb)
}

// Uninstall removes a plugin. With deactivateFirst the plugin is
// deactivated first; a failed deactivation does not stop the uninstall.
func (c *Client) Uninstall(ctx context.Context, name string, deactivateFirst bool) Outcome {
	if !c.Available(ctx) {
		return failed(ErrToolUnavailable, "failed to uninstall plugin %s: %v", name, ErrToolUnavailable)
	}
	if deactivateFirst {
		if o := c.Deactivate(ctx, name); !o.Succeeded() {
			c.log.Debug().Str("plugin", name).Str("message", o.Message).Msg("pre-uninstall deactivation failed, continuing")
		}
	}
	kind, out, err := c.mutate(ctx, "plugin uninstall "+remote.Quote(name), c.timeouts.Mutation)
	switch {
	case err != nil:
		return failed(err, "failed to uninstall plugin %s: %v", name, err)
	case kind == OutcomeFailed:
		return failed(nil, "failed to uninstall plugin %s: %s", name, out)
	}
	return outcome(kind, "plugin '%s' uninstalled", name)
}

// Update updates one plugin, or every plugin when name is empty.
func (c *Client) Update(ctx context.Context, name string) Outcome {
	args := "plugin update --all"
	target := "all plugins"
	if name != "" {
		args = "plugin update " + remote.Quote(name)
		target = name
	}
	kind, out, err := c.mutate(ctx, args, c.timeouts.Install, "already up-to-date", "already updated")
	switch {
	case err != nil:
		return failed(err, "failed to update %s: %v", target, err)
	case kind == OutcomeFailed:
		return failed(nil, "failed to update %s: %s", target, out)
	}
	return outcome(kind, "update of %s completed", target)
}

// FlushCache flushes the object cache and rewrite rules. Both must succeed.
func (c *Client) FlushCache(ctx context.Context) Outcome {
	cacheKind, cacheOut, err := c.mutate(ctx, "cache flush", c.timeouts.Mutation)
	if err != nil {
		return failed(err, "failed to flush cache: %v", err)
	}
	rewriteKind, rewriteOut, err := c.mutate(ctx, "rewrite flush", c.timeouts.Mutation)
	if err != nil {
		return failed(err, "failed to flush rewrite rules: %v", err)
	}
	if cacheKind != OutcomeOK || rewriteKind != OutcomeOK {
		return failed(nil, "failed to flush cache: %s %s", cacheOut, rewriteOut)
	}
	return outcome(OutcomeOK, "cache flushed")
}

// Details is the output of `wp plugin get`.
type Details struct {
	Name        string             `json:"name" yaml:"name"`
	Title       string             `json:"title,omitempty" yaml:"title,omitempty"`
	Author      string             `json:"author,omitempty" yaml:"author,omitempty"`
	Version     string             `json:"version,omitempty" yaml:"version,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Status      types.PluginStatus `json:"status" yaml:"status"`
}

// Info returns details for one plugin. Unparseable output yields a record
// with only the name and an unknown status.
func (c *Client) Info(ctx context.Context, name string) (Details, error) {
	if !c.Available(ctx) {
		return Details{}, ErrToolUnavailable
	}
	out, err := c.run(ctx, "plugin get "+remote.Quote(name)+" --format=json", c.timeouts.Query)
	if err != nil {
		return Details{}, err
	}

	var raw struct {
		Name        string `json:"name"`
		Title       string `json:"title"`
		Author      string `json:"author"`
		Version     string `json:"version"`
		Description string `json:"description"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &raw); err != nil {
		return Details{Name: name, Status: types.StatusUnknown}, nil
	}
	return Details{
		Name:        stringOr(raw.Name, name),
		Title:       raw.Title,
		Author:      raw.Author,
		Version:     raw.Version,
		Description: raw.Description,
		Status:      types.NormalizePluginStatus(raw.Status),
	}, nil
}

// UpdatesAvailable lists plugins with a pending update.
func (c *Client) UpdatesAvailable(ctx context.Context) ([]Plugin, error) {
	if !c.Available(ctx) {
		return nil, ErrToolUnavailable
	}
	out, err := c.run(ctx, "plugin list --update=available --format=json", c.timeouts.ListJSON)
	if err != nil {
		return nil, err
	}
	plugins, err := parsePluginJSON(out)
	if err != nil {
		if errors.Is(err, errEmptyOutput) {
			return []Plugin{}, nil
		}
		return nil, &ParseError{Tier: "json", Err: err}
	}

	pending := plugins[:0:0]
	for _, p := range plugins {
		if p.Update == "available" || newerVersion(p.UpdateVersion, p.Version) {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// SiteInfo summarizes the WordPress installation.
type SiteInfo struct {
	WPVersion    string `json:"wp_version" yaml:"wp_version"`
	SiteURL      string `json:"site_url" yaml:"site_url"`
	SiteTitle    string `json:"site_title" yaml:"site_title"`
	DebugEnabled string `json:"debug_enabled" yaml:"debug_enabled"`
}

// SiteInfo reads core version, site URL, title and WP_DEBUG. Individual
// queries that fail leave their field empty.
func (c *Client) SiteInfo(ctx context.Context) (SiteInfo, error) {
	if !c.Available(ctx) {
		return SiteInfo{}, ErrToolUnavailable
	}
	query := func(args string) string {
		out, err := c.run(ctx, args, c.timeouts.Query)
		if err != nil {
			c.log.Debug().Err(err).Str("query", args).Msg("site info query failed")
			return ""
		}
		return strings.TrimSpace(out)
	}
	return SiteInfo{
		WPVersion:    query("core version"),
		SiteURL:      query("option get siteurl"),
		SiteTitle:    query("option get blogname"),
		DebugEnabled: query("config get WP_DEBUG"),
	}, nil
}

// SiteURL returns the configured siteurl option.
func (c *Client) SiteURL(ctx context.Context) (string, error) {
	if !c.Available(ctx) {
		return "", ErrToolUnavailable
	}
	out, err := c.run(ctx, "option get siteurl", c.timeouts.Query)
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(out)
	if url == "" {
		return "", fmt.Errorf("siteurl option is empty")
	}
	return url, nil
}

// ListFromFilesystem lists plugin directories without WP-CLI. Statuses are
// unknown; it is the last resort when WP-CLI is unavailable.
func (c *Client) ListFromFilesystem(ctx context.Context) ([]Plugin, error) {
	dir := strings.TrimRight(c.path, "/") + "/wp-content/plugins"
	out, err := c.exec.Execute(ctx, "ls -1 "+remote.Quote(dir), c.timeouts.Query)
	if err != nil {
		return nil, err
	}

	var plugins []Plugin
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || name == "index.php" || strings.HasPrefix(name, ".") {
			continue
		}
		plugins = append(plugins, Plugin{
			Name:       strings.TrimSuffix(name, ".php"),
			Status:     types.StatusUnknown,
			Update:     "none",
			Version:    "unknown",
			TestStatus: types.TestUntested,
		})
	}
	return plugins, nil
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

// ErrNoPlugins is returned when the plugin list comes back empty, which
// means it could not be read.
var ErrNoPlugins = errors.New("could not read plugin list")

// Lister reads the installed plugins.
type Lister interface {
	List(ctx context.Context, filter types.ListFilter) ([]wpcli.Plugin, error)
}

// Controller toggles plugins.
type Controller interface {
	Lister
	Activate(ctx context.Context, name string) wpcli.Outcome
	Deactivate(ctx context.Context, name string) wpcli.Outcome
}

// Capture snapshots the current activation set.
func (m *Manager) Capture(ctx context.Context, l Lister, note string) (*Snapshot, error) {
	plugins, err := l.List(ctx, types.FilterAll)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	if len(plugins) == 0 {
		return nil, ErrNoPlugins
	}

	var active, inactive []string
	for _, p := range plugins {
		switch p.Status {
		case types.StatusActive:
			active = append(active, p.Name)
		case types.StatusInactive:
			inactive = append(inactive, p.Name)
		}
	}
	return m.New(active, inactive, note), nil
}

// Failure is one plugin the restore could not toggle.
type Failure struct {
	Plugin    string `json:"plugin" yaml:"plugin"`
	Operation string `json:"operation" yaml:"operation"`
	Message   string `json:"message" yaml:"message"`
}

// RestoreReport describes what a restore did.
type RestoreReport struct {
	SnapshotID  string    `json:"snapshot_id" yaml:"snapshot_id"`
	Deactivated []string  `json:"deactivated" yaml:"deactivated"`
	Activated   []string  `json:"activated" yaml:"activated"`
	Failures    []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
	ActiveAfter []string  `json:"active_after" yaml:"active_after"`
}

// Complete reports whether the active set now equals the snapshot's.
func (r *RestoreReport) Complete(snap *Snapshot) bool {
	if len(r.ActiveAfter) != len(snap.ActivePlugins) {
		return false
	}
	for i := range r.ActiveAfter {
		if r.ActiveAfter[i] != snap.ActivePlugins[i] {
			return false
		}
	}
	return true
}

// Restore deactivates every active plugin, then activates exactly the
// snapshot's active set. Individual failures are reported, not fatal.
func Restore(ctx context.Context, c Controller, snap *Snapshot, log zerolog.Logger) (*RestoreReport, error) {
	if snap == nil {
		return nil, fmt.Errorf("invalid snapshot")
	}

	report := &RestoreReport{
		SnapshotID:  snap.ID,
		Deactivated: []string{},
		Activated:   []string{},
	}

	active, err := c.List(ctx, types.FilterActive)
	if err != nil {
		return nil, fmt.Errorf("failed to read active plugins: %w", err)
	}
	for _, p := range active {
		o := c.Deactivate(ctx, p.Name)
		if !o.Succeeded() {
			report.Failures = append(report.Failures, Failure{Plugin: p.Name, Operation: "deactivate", Message: o.Message})
			continue
		}
		report.Deactivated = append(report.Deactivated, p.Name)
	}

	for _, name := range snap.ActivePlugins {
		o := c.Activate(ctx, name)
		if !o.Succeeded() {
			log.Warn().Str("plugin", name).Str("message", o.Message).Msg("could not reactivate plugin during restore")
			report.Failures = append(report.Failures, Failure{Plugin: name, Operation: "activate", Message: o.Message})
			continue
		}
		report.Activated = append(report.Activated, name)
	}

	after, err := c.List(ctx, types.FilterActive)
	if err != nil {
		return report, fmt.Errorf("failed to verify restore: %w", err)
	}
	report.ActiveAfter = make([]string, 0, len(after))
	for _, p := range after {
		report.ActiveAfter = append(report.ActiveAfter, p.Name)
	}
	sort.Strings(report.ActiveAfter)

	log.Info().
		Str("snapshot", snap.ID).
		Int("deactivated", len(report.Deactivated)).
		Int("activated", len(report.Activated)).
		Int("failures", len(report.Failures)).
		Msg("restore finished")
	return report, nil
}

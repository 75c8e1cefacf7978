// Package diff computes what a restore would change: the difference between
// a backup snapshot and the plugins currently installed.
package diff

import (
	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/wpcli"
)

// Action represents what a restore does to a plugin.
type Action string

const (
	ActionNone     Action = "none"     // Already in the recorded state
	ActionActivate Action = "activate" // Inactive now, active in the snapshot
	ActionDisable  Action = "disable"  // Active now, not active in the snapshot
	ActionMissing  Action = "missing"  // Active in the snapshot but no longer installed
	ActionExtra    Action = "extra"    // Installed after the snapshot, stays inactive (info only)
)

// PluginDiff represents the diff for a plugin.
type PluginDiff struct {
	Name      string        `json:"name" yaml:"name"`
	Action    Action        `json:"action" yaml:"action"`
	WasActive bool          `json:"was_active" yaml:"was_active"`
	Current   *wpcli.Plugin `json:"current,omitempty" yaml:"current,omitempty"`
}

// Result contains the complete diff between a snapshot and current state.
type Result struct {
	SnapshotID string       `json:"snapshot_id" yaml:"snapshot_id"`
	Plugins    []PluginDiff `json:"plugins" yaml:"plugins"`
}

// Compute calculates the diff between a snapshot and the current plugins.
func Compute(snap *backup.Snapshot, current []wpcli.Plugin) *Result {
	return compute(snap, current)
}

// Summary returns counts of actions a restore performs.
func (r *Result) Summary() (activate, disable, missing, extra int) {
	for _, p := range r.Plugins {
		switch p.Action {
		case ActionActivate:
			activate++
		case ActionDisable:
			disable++
		case ActionMissing:
			missing++
		case ActionExtra:
			extra++
		}
	}
	return
}

// HasChanges reports whether restoring would change any activation.
func (r *Result) HasChanges() bool {
	activate, disable, missing, _ := r.Summary()
	return activate+disable+missing > 0
}

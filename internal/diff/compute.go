package diff

import (
	"sort"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

func compute(snap *backup.Snapshot, current []wpcli.Plugin) *Result {
	result := &Result{Plugins: []PluginDiff{}}
	if snap == nil {
		return result
	}
	result.SnapshotID = snap.ID

	recorded := make(map[string]bool, len(snap.ActivePlugins)+len(snap.InactivePlugins))
	for _, name := range snap.InactivePlugins {
		recorded[name] = false
	}
	for _, name := range snap.ActivePlugins {
		recorded[name] = true
	}

	seen := make(map[string]bool, len(current))
	for i := range current {
		p := current[i]
		// Must-use plugins cannot be toggled and are never recorded.
		if p.Status == types.StatusMustUse {
			continue
		}
		seen[p.Name] = true
		wasActive, known := recorded[p.Name]
		result.Plugins = append(result.Plugins, PluginDiff{
			Name:      p.Name,
			Action:    pluginAction(p.Status.IsActive(), wasActive, known),
			WasActive: wasActive,
			Current:   &p,
		})
	}

	// Recorded as active but gone from the site
	for _, name := range snap.ActivePlugins {
		if !seen[name] {
			result.Plugins = append(result.Plugins, PluginDiff{
				Name:      name,
				Action:    ActionMissing,
				WasActive: true,
			})
		}
	}

	sort.SliceStable(result.Plugins, func(i, j int) bool {
		return result.Plugins[i].Name < result.Plugins[j].Name
	})
	return result
}

func pluginAction(active, wasActive, known bool) Action {
	switch {
	case !known && active:
		return ActionDisable
	case !known:
		return ActionExtra
	case wasActive && !active:
		return ActionActivate
	case !wasActive && active:
		return ActionDisable
	default:
		return ActionNone
	}
}

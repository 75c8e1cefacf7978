package backup

import (
	"fmt"
	"time"
)

// DefaultKeepCount is the default number of backups to retain.
const DefaultKeepCount = 30

// PruneResult contains information about what was pruned.
type PruneResult struct {
	Deleted []Info `json:"deleted" yaml:"deleted"`
	Kept    int    `json:"kept" yaml:"kept"`
}

// Prune removes old backups, keeping the most recent keep backups. A
// positive maxAge additionally deletes kept backups older than maxAge, but
// never the newest one.
func (m *Manager) Prune(keep int, maxAge time.Duration) (*PruneResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep count must be non-negative")
	}

	backups, err := m.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = m.now().Add(-maxAge)
	}

	result := &PruneResult{Deleted: []Info{}}
	for i, b := range backups {
		expired := !cutoff.IsZero() && i > 0 && b.CreatedAt.Before(cutoff)
		if i < keep && !expired {
			result.Kept++
			continue
		}
		if err := m.Delete(b.ID); err != nil {
			return nil, fmt.Errorf("failed to delete backup %s: %w", b.ID, err)
		}
		result.Deleted = append(result.Deleted, b)
	}
	return result, nil
}

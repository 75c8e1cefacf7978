// Package backup captures, persists and restores the plugin activation set.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adamancini/wpguard/internal/state"
)

// Snapshot is the active/inactive partition of the installed plugins at one
// moment. Must-use plugins are not part of either set.
type Snapshot struct {
	ID              string    `json:"id" yaml:"id"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	Note            string    `json:"note,omitempty" yaml:"note,omitempty"`
	Version         string    `json:"wpguard_version" yaml:"wpguard_version"`
	Site            string    `json:"site,omitempty" yaml:"site,omitempty"`
	ActivePlugins   []string  `json:"active_plugins" yaml:"active_plugins"`
	InactivePlugins []string  `json:"inactive_plugins" yaml:"inactive_plugins"`
}

// IsActive reports whether name was active when the snapshot was taken.
func (s *Snapshot) IsActive(name string) bool {
	i := sort.SearchStrings(s.ActivePlugins, name)
	return i < len(s.ActivePlugins) && s.ActivePlugins[i] == name
}

// Info provides summary information about a backup for listing.
type Info struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	Active    int       `json:"active" yaml:"active"`
	Inactive  int       `json:"inactive" yaml:"inactive"`
	Size      int64     `json:"size" yaml:"size"`
}

// Manager stores snapshots as JSON files, one per backup.
type Manager struct {
	backupDir string
	version   string
	now       func() time.Time
}

// NewManager creates a manager rooted at the default backup directory.
func NewManager(version string) (*Manager, error) {
	backupDir, err := getBackupDir()
	if err != nil {
		return nil, err
	}
	return NewManagerWithDir(backupDir, version), nil
}

// NewManagerWithDir creates a backup manager with a custom directory.
func NewManagerWithDir(backupDir, version string) *Manager {
	return &Manager{
		backupDir: backupDir,
		version:   version,
		now:       time.Now,
	}
}

// getBackupDir returns the default backup directory path.
func getBackupDir() (string, error) {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "wpguard", "backups"), nil
}

// New builds an unsaved snapshot from the two plugin sets.
func (m *Manager) New(active, inactive []string, note string) *Snapshot {
	now := m.now()
	return &Snapshot{
		ID:              fmt.Sprintf("%s-%s", now.Format("2006-01-02-150405"), uuid.NewString()[:8]),
		CreatedAt:       now,
		Note:            note,
		Version:         m.version,
		ActivePlugins:   sortedCopy(active),
		InactivePlugins: sortedCopy(inactive),
	}
}

// Save writes a snapshot to disk.
func (m *Manager) Save(snap *Snapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot has no ID")
	}
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	return state.WriteFileAtomic(m.path(snap.ID), snap)
}

// List returns all backups sorted by creation time (newest first).
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []Info{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		snap, err := m.load(filepath.Join(m.backupDir, entry.Name()))
		if err != nil {
			continue
		}

		backups = append(backups, Info{
			ID:        snap.ID,
			CreatedAt: snap.CreatedAt,
			Note:      snap.Note,
			Active:    len(snap.ActivePlugins),
			Inactive:  len(snap.InactivePlugins),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Get retrieves a backup by ID. Use "latest" to get the most recent backup.
func (m *Manager) Get(id string) (*Snapshot, error) {
	if id == "latest" {
		backups, err := m.List()
		if err != nil {
			return nil, err
		}
		if len(backups) == 0 {
			return nil, fmt.Errorf("no backups found")
		}
		id = backups[0].ID
	}
	return m.load(m.path(id))
}

// Delete removes a backup by ID.
func (m *Manager) Delete(id string) error {
	path := m.path(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("backup not found: %s", id)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}

// BackupDir returns the backup directory path.
func (m *Manager) BackupDir() string {
	return m.backupDir
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.backupDir, filepath.Base(id)+".json")
}

func (m *Manager) load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup not found: %s", strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse backup file: %w", err)
	}
	sort.Strings(snap.ActivePlugins)
	sort.Strings(snap.InactivePlugins)
	return &snap, nil
}

func sortedCopy(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}

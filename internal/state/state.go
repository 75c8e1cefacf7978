// Package state persists per-plugin test status and resolved-plugin markers.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/types"
)

const (
	// TestStatusFile holds the latest classification per plugin.
	TestStatusFile = "plugin_test_status.json"
	// ResolvedFile holds plugins whose diagnostics are suppressed.
	ResolvedFile = "resolved_plugins.json"
)

// TestRecord is the persisted result of the latest safety test of a plugin.
type TestRecord struct {
	TestStatus  types.TestStatus `json:"test_status" yaml:"test_status"`
	LastUpdated time.Time        `json:"last_updated" yaml:"last_updated"`
	Version     string           `json:"version,omitempty" yaml:"version,omitempty"`
	Directory   string           `json:"directory,omitempty" yaml:"directory,omitempty"`
}

// ResolvedRecord marks an inactive plugin whose log lines are ignored.
type ResolvedRecord struct {
	Reason       string    `json:"reason" yaml:"reason"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	ErrorDetails []string  `json:"error_details,omitempty" yaml:"error_details,omitempty"`
}

// ResolvedEntry is a ResolvedRecord with its plugin name, for listing.
type ResolvedEntry struct {
	PluginName string `json:"plugin_name" yaml:"plugin_name"`
	ResolvedRecord
}

// Store is the single owner of both state files. All methods are safe for
// concurrent use; every mutation rewrites the affected file atomically.
type Store struct {
	mu       sync.Mutex
	dir      string
	tests    map[string]TestRecord
	resolved map[string]ResolvedRecord
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the store from dir. Missing files are empty state.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:      dir,
		tests:    map[string]TestRecord{},
		resolved: map[string]ResolvedRecord{},
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := readJSON(filepath.Join(dir, TestStatusFile), &s.tests); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, ResolvedFile), &s.resolved); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the directory holding the state files.
func (s *Store) Dir() string {
	return s.dir
}

// TestStatus returns the latest classification, untested when unknown.
func (s *Store) TestStatus(name string) types.TestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tests[name].TestStatus.Default()
}

// Record returns the full test record for a plugin.
func (s *Store) Record(name string) (TestRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tests[name]
	return rec, ok
}

// SetTestStatus overwrites the classification of a plugin.
func (s *Store) SetTestStatus(name string, status types.TestStatus, version string) error {
	if err := status.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[name] = TestRecord{
		TestStatus:  status.Default(),
		LastUpdated: s.now(),
		Version:     version,
		Directory:   name,
	}
	s.log.Debug().Str("plugin", name).Str("test_status", status.String()).Msg("test status recorded")
	return s.writeLocked(TestStatusFile, s.tests)
}

// MarkResolved suppresses diagnostics for a plugin until it is seen active.
func (s *Store) MarkResolved(name, reason string, details []string) error {
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[name] = ResolvedRecord{
		Reason:       reason,
		Timestamp:    s.now(),
		ErrorDetails: details,
	}
	s.log.Info().Str("plugin", name).Str("reason", reason).Msg("plugin marked resolved")
	return s.writeLocked(ResolvedFile, s.resolved)
}

// Unresolve removes a resolved marker. It reports whether one existed.
func (s *Store) Unresolve(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolved[name]; !ok {
		return false, nil
	}
	delete(s.resolved, name)
	return true, s.writeLocked(ResolvedFile, s.resolved)
}

// IsResolved reports whether a plugin is marked resolved.
func (s *Store) IsResolved(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.resolved[name]
	return ok
}

// Resolved lists resolved markers sorted by plugin name.
func (s *Store) Resolved() []ResolvedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]ResolvedEntry, 0, len(s.resolved))
	for name, rec := range s.resolved {
		entries = append(entries, ResolvedEntry{PluginName: name, ResolvedRecord: rec})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PluginName < entries[j].PluginName
	})
	return entries
}

// Reconcile drops resolved markers of plugins that are active again and
// returns their names.
func (s *Store) Reconcile(active []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, name := range active {
		if _, ok := s.resolved[name]; ok {
			delete(s.resolved, name)
			removed = append(removed, name)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)
	s.log.Info().Strs("plugins", removed).Msg("resolved markers cleared for reactivated plugins")
	return removed, s.writeLocked(ResolvedFile, s.resolved)
}

var pluginPath = regexp.MustCompile(`/plugins/([^/]+)/`)

// PluginFromLine returns the plugin a log line points at, if any.
func PluginFromLine(line string) (string, bool) {
	m := pluginPath.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FilterLines drops log lines attributed to resolved plugins.
func (s *Store) FilterLines(lines []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resolved) == 0 {
		return lines
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if name, ok := PluginFromLine(line); ok {
			if _, resolved := s.resolved[name]; resolved {
				continue
			}
		}
		kept = append(kept, line)
	}
	return kept
}

func (s *Store) writeLocked(file string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return WriteFileAtomic(filepath.Join(s.dir, file), v)
}

// WriteFileAtomic marshals v as indented JSON and replaces path through a
// temporary file in the same directory.
func WriteFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON[T any](path string, into *map[string]T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if *into == nil {
		*into = map[string]T{}
	}
	return nil
}

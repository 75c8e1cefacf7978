// Package wpclitest provides an in-memory WordPress host that answers the
// WP-CLI commands issued by wpcli.Client and serves the site over HTTP.
package wpclitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adamancini/wpguard/internal/remote"
	"github.com/adamancini/wpguard/internal/types"
)

// Site is a fake WordPress installation. The zero value is not usable; use
// NewSite.
type Site struct {
	mu sync.Mutex

	order   []string
	plugins map[string]types.PluginStatus

	// Broken plugins make the front page fail while active.
	Broken map[string]bool
	// FailActivate rejects activation of the named plugins with the message.
	FailActivate map[string]string
	// FailDeactivate rejects deactivation of the named plugins.
	FailDeactivate map[string]string
	// TruncateJSON cuts the JSON list output in half.
	TruncateJSON bool
	// FailTable makes the filtered table tier error.
	FailTable bool
	// Unavailable hides the wp binary.
	Unavailable bool
	// ListError fails every list command when set.
	ListError error
	// URL is returned by `wp option get siteurl`.
	URL string
	// DebugLog is the content of wp-content/debug.log.
	DebugLog []string

	calls []string
}

// NewSite creates a site with the given plugins. Names prefixed with "+" are
// active; "!" marks must-use.
func NewSite(plugins ...string) *Site {
	s := &Site{
		plugins:        map[string]types.PluginStatus{},
		Broken:         map[string]bool{},
		FailActivate:   map[string]string{},
		FailDeactivate: map[string]string{},
	}
	for _, p := range plugins {
		status := types.StatusInactive
		switch {
		case strings.HasPrefix(p, "+"):
			status = types.StatusActive
			p = p[1:]
		case strings.HasPrefix(p, "!"):
			status = types.StatusMustUse
			p = p[1:]
		}
		s.order = append(s.order, p)
		s.plugins[p] = status
	}
	return s
}

// Status returns the current status of a plugin.
func (s *Site) Status(name string) types.PluginStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.plugins[name]; ok {
		return st
	}
	return types.StatusUnknown
}

// SetStatus changes a plugin status behind the client's back.
func (s *Site) SetStatus(name string, status types.PluginStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[name]; !ok {
		s.order = append(s.order, name)
	}
	s.plugins[name] = status
}

// Active returns the sorted names of active plugins.
func (s *Site) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, n := range s.order {
		if s.plugins[n] == types.StatusActive {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Healthy reports whether no broken plugin is active.
func (s *Site) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, broken := range s.Broken {
		if broken && s.plugins[name] == types.StatusActive {
			return false
		}
	}
	return true
}

// Calls returns every command executed so far.
func (s *Site) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many executed commands contain substr.
func (s *Site) Count(substr string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// ServeHTTP renders the front page: 200 when healthy, a PHP fatal error page
// with status 500 otherwise.
func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.Healthy() {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, "<html><body><b>Fatal error</b>: Uncaught Error in wp-content/plugins/broken/broken.php</body></html>")
		return
	}
	_, _ = fmt.Fprint(w, "<html><body>Just another WordPress site</body></html>")
}

var _ remote.Executor = (*Site)(nil)

// Execute answers a shell command the way a WordPress host would.
func (s *Site) Execute(ctx context.Context, command string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)

	cmd := command
	if i := strings.Index(cmd, " && "); i >= 0 && strings.HasPrefix(cmd, "cd ") {
		cmd = cmd[i+4:]
	}
	cmd = strings.TrimSuffix(cmd, " 2>&1")

	switch {
	case cmd == "which wp":
		if s.Unavailable {
			return "", nil
		}
		return "/usr/local/bin/wp\n", nil
	case strings.HasPrefix(cmd, "tail "):
		return strings.Join(s.DebugLog, "\n"), nil
	case strings.HasPrefix(cmd, ": > "):
		s.DebugLog = nil
		return "", nil
	case strings.HasPrefix(cmd, "ls -1 "):
		return strings.Join(s.order, "\n") + "\n", nil
	case !strings.HasPrefix(cmd, "wp "):
		return "", &remote.CommandError{Command: command, Lines: []string{"unknown command"}, ExitCode: 127}
	}
	if s.Unavailable {
		return "", &remote.CommandError{Command: command, Lines: []string{"sh: wp: not found"}, ExitCode: 127}
	}

	args := strings.Fields(strings.TrimPrefix(cmd, "wp "))
	switch {
	case len(args) >= 2 && args[0] == "core" && args[1] == "version":
		return "6.4.2\n", nil
	case len(args) >= 3 && args[0] == "option" && args[1] == "get":
		if args[2] == "siteurl" {
			return s.URL + "\n", nil
		}
		return "Test Site\n", nil
	case len(args) >= 2 && args[0] == "config" && args[1] == "get":
		return "1\n", nil
	case len(args) >= 2 && (args[0] == "cache" || args[0] == "rewrite") && args[1] == "flush":
		return "Success: flushed.\n", nil
	case len(args) >= 2 && args[0] == "plugin" && args[1] == "list":
		return s.list(args[2:])
	case len(args) >= 3 && args[0] == "plugin" && args[1] == "activate":
		return s.activate(unquote(args[2])), nil
	case len(args) >= 3 && args[0] == "plugin" && args[1] == "deactivate":
		return s.deactivate(unquote(args[2])), nil
	case len(args) >= 3 && args[0] == "plugin" && args[1] == "install":
		name := unquote(args[2])
		if _, ok := s.plugins[name]; ok {
			return fmt.Sprintf("Warning: %s: Plugin already installed.\n", name), nil
		}
		s.order = append(s.order, name)
		s.plugins[name] = types.StatusInactive
		if len(args) > 3 && args[3] == "--activate" {
			s.plugins[name] = types.StatusActive
		}
		return "Plugin installed successfully.\nSuccess: Installed 1 of 1 plugins.\n", nil
	case len(args) >= 3 && args[0] == "plugin" && args[1] == "uninstall":
		name := unquote(args[2])
		if _, ok := s.plugins[name]; !ok {
			return fmt.Sprintf("Warning: The '%s' plugin could not be found.\nError: No plugins uninstalled.\n", name), nil
		}
		delete(s.plugins, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return fmt.Sprintf("Uninstalled and deleted '%s' plugin.\nSuccess: Uninstalled 1 of 1 plugins.\n", name), nil
	case len(args) >= 3 && args[0] == "plugin" && args[1] == "get":
		name := unquote(args[2])
		st, ok := s.plugins[name]
		if !ok {
			return "", &remote.CommandError{Command: command, Lines: []string{"Error: The '" + name + "' plugin could not be found."}, ExitCode: 1}
		}
		b, _ := json.Marshal(map[string]string{"name": name, "title": strings.ToUpper(name[:1]) + name[1:], "version": "1.0.0", "status": st.String()})
		return string(b), nil
	case len(args) >= 2 && args[0] == "plugin" && args[1] == "update":
		return "Success: Plugin already updated.\n", nil
	case len(args) >= 3 && args[0] == "plugin" && args[1] == "search":
		term := unquote(args[2])
		b, _ := json.Marshal([]map[string]any{{"name": "SEO " + term, "slug": term + "-seo", "rating": 92}})
		return string(b), nil
	}
	return "", &remote.CommandError{Command: command, Lines: []string{"Error: unsupported command"}, ExitCode: 1}
}

func (s *Site) activate(name string) string {
	st, ok := s.plugins[name]
	if !ok {
		return fmt.Sprintf("Warning: The '%s' plugin could not be found.\nError: No plugins activated.\n", name)
	}
	if msg, fail := s.FailActivate[name]; fail {
		return "Error: " + msg + "\n"
	}
	if st == types.StatusActive {
		return fmt.Sprintf("Warning: Plugin '%s' is already active.\n", name)
	}
	s.plugins[name] = types.StatusActive
	return fmt.Sprintf("Plugin '%s' activated.\nSuccess: Activated 1 of 1 plugins.\n", name)
}

func (s *Site) deactivate(name string) string {
	st, ok := s.plugins[name]
	if !ok {
		return fmt.Sprintf("Warning: The '%s' plugin could not be found.\nError: No plugins deactivated.\n", name)
	}
	if msg, fail := s.FailDeactivate[name]; fail {
		return "Error: " + msg + "\n"
	}
	if st != types.StatusActive {
		return fmt.Sprintf("Warning: Plugin '%s' isn't active.\nWarning: Plugin '%s' is already inactive.\n", name, name)
	}
	s.plugins[name] = types.StatusInactive
	return fmt.Sprintf("Plugin '%s' deactivated.\nSuccess: Deactivated 1 of 1 plugins.\n", name)
}

func (s *Site) list(args []string) (string, error) {
	if s.ListError != nil {
		return "", s.ListError
	}
	status := ""
	format := "table"
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--status="):
			status = strings.TrimPrefix(a, "--status=")
		case strings.HasPrefix(a, "--format="):
			format = strings.TrimPrefix(a, "--format=")
		}
	}

	type row struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		Update  string `json:"update"`
		Version string `json:"version"`
	}
	var rows []row
	for _, n := range s.order {
		st := s.plugins[n]
		if status != "" && st.String() != status {
			continue
		}
		rows = append(rows, row{Name: n, Status: st.String(), Update: "none", Version: "1.0.0"})
	}

	if format == "json" {
		if rows == nil {
			rows = []row{}
		}
		b, _ := json.Marshal(rows)
		if s.TruncateJSON {
			b = b[:len(b)/2]
		}
		return string(b), nil
	}

	if s.FailTable && status != "" {
		return "", &remote.TimeoutError{Command: "wp plugin list", Timeout: 30 * time.Second}
	}
	var sb strings.Builder
	sb.WriteString("name\tstatus\tupdate\tversion\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "%s\t%s\t%s\t%s\n", r.Name, r.Status, r.Update, r.Version)
	}
	return sb.String(), nil
}

func unquote(s string) string {
	return strings.Trim(s, "'")
}

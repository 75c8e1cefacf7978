// Package remote provides the command-execution channels used to reach the
// WordPress host: SSH, WinRM, or the local shell.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout applies when a caller passes a zero timeout.
const DefaultTimeout = 30 * time.Second

// Executor runs a shell command on the target host and returns its stdout.
//
// Implementations fail with *TimeoutError when the deadline passes and with
// *CommandError when stderr contains anything other than benign PHP chatter.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("command timed out")

// ErrNotConnected is returned when the channel cannot be established.
var ErrNotConnected = errors.New("remote channel not connected")

// TimeoutError reports a command that exceeded its deadline.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout of %s reached for command: %s", e.Timeout, truncate(e.Command, 60))
}

// Is makes errors.Is(err, ErrTimeout) work.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// CommandError reports real errors printed on stderr.
type CommandError struct {
	Command  string
	Lines    []string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed: %s", strings.Join(e.Lines, "\n"))
}

// BenignStderr lists substrings of stderr lines that WordPress and PHP print
// during normal operation. Lines containing any of them are not errors.
var BenignStderr = []string{
	"Notice:",
	"Warning:",
	"Deprecated:",
	"register_rest_route",
	"permission_callback",
	"wp-includes/functions.php",
	"This message was added in version",
	"Este mensaje fue añadido en la versión",
}

// RealErrors returns the stderr lines that are not covered by BenignStderr.
func RealErrors(stderr string) []string {
	var real []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isBenign(line) {
			continue
		}
		real = append(real, line)
	}
	return real
}

func isBenign(line string) bool {
	for _, w := range BenignStderr {
		if strings.Contains(line, w) {
			return true
		}
	}
	return false
}

// finish converts raw command results into the Executor contract.
// The exit code is informational only: WP-CLI reports failures on stderr.
func finish(command, stdout, stderr string, exitCode int) (string, error) {
	if real := RealErrors(stderr); len(real) > 0 {
		return stdout, &CommandError{Command: command, Lines: real, ExitCode: exitCode}
	}
	return stdout, nil
}

func effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Quote returns s single-quoted for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:@=,+", r):
		return false
	default:
		return true
	}
}

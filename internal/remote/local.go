package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// LocalExecutor runs commands through the local shell. It is used when
// wpguard runs on the WordPress host itself.
type LocalExecutor struct {
	Shell string // defaults to /bin/sh
}

// Execute implements Executor using os/exec.
func (l *LocalExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	timeout = effectiveTimeout(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Background children may hold the pipes open after the shell is killed.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), &TimeoutError{Command: command, Timeout: timeout}
	}
	if err != nil {
		if ctx.Err() != nil {
			return stdout.String(), ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", err
		}
		return finish(command, stdout.String(), stderr.String(), exitErr.ExitCode())
	}
	return finish(command, stdout.String(), stderr.String(), 0)
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/masterzen/winrm"
	"github.com/rs/zerolog"
)

// WinRMConfig holds connection settings for WinRMExecutor.
type WinRMConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Domain   string // non-empty switches to NTLM
	HTTPS    bool
	Insecure bool
	Timeout  time.Duration
}

// WinRMExecutor runs commands on a Windows host. WinRM is stateless so every
// command is an independent request.
type WinRMExecutor struct {
	client *winrm.Client
	log    zerolog.Logger
}

// NewWinRMExecutor builds a WinRM client with Basic or NTLM authentication.
func NewWinRMExecutor(cfg WinRMConfig, log zerolog.Logger) (*WinRMExecutor, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("winrm host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 5985
		if cfg.HTTPS {
			cfg.Port = 5986
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	endpoint := winrm.NewEndpoint(cfg.Host, cfg.Port, cfg.HTTPS, cfg.Insecure, nil, nil, nil, cfg.Timeout)

	var client *winrm.Client
	var err error
	if cfg.Domain != "" {
		params := winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
		client, err = winrm.NewClientWithParameters(endpoint, fmt.Sprintf("%s\\%s", cfg.Domain, cfg.User), cfg.Password, params)
	} else {
		client, err = winrm.NewClient(endpoint, cfg.User, cfg.Password)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create WinRM client: %w", err)
	}
	return &WinRMExecutor{client: client, log: log}, nil
}

// Execute implements Executor.
func (w *WinRMExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	timeout = effectiveTimeout(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := w.client.RunWithContextWithString(ctx, command, "")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{Command: command, Timeout: timeout}
		}
		return "", fmt.Errorf("%w: winrm execution failed: %v", ErrNotConnected, err)
	}
	w.log.Debug().Str("command", truncate(command, 100)).Int("exit_code", exitCode).Msg("winrm command completed")
	return finish(command, stdout, stderr, exitCode)
}

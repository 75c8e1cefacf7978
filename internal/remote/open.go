package remote

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/types"
)

// Config selects and configures a channel.
type Config struct {
	Transport  types.Transport
	SSH        SSHConfig
	WinRM      WinRMConfig
	Shell      string
	RatePerSec float64
}

// Open builds the executor for cfg.Transport.
func Open(cfg Config, log zerolog.Logger) (Executor, error) {
	var exec Executor
	switch cfg.Transport {
	case types.TransportSSH:
		e, err := NewSSHExecutor(cfg.SSH, log.With().Str("transport", "ssh").Logger())
		if err != nil {
			return nil, err
		}
		exec = e
	case types.TransportWinRM:
		e, err := NewWinRMExecutor(cfg.WinRM, log.With().Str("transport", "winrm").Logger())
		if err != nil {
			return nil, err
		}
		exec = e
	case types.TransportLocal:
		exec = &LocalExecutor{Shell: cfg.Shell}
	default:
		return nil, fmt.Errorf("unknown transport: %q", cfg.Transport)
	}
	return NewThrottled(exec, cfg.RatePerSec), nil
}

// Close releases exec if it holds a connection.
func Close(exec Executor) error {
	if c, ok := exec.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

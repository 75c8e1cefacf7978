package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds connection settings for SSHExecutor.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	Passphrase     string
	KnownHostsFile string // empty means host keys are not verified
	DialTimeout    time.Duration
}

// SSHExecutor runs commands over a single, lazily dialed SSH connection.
// Each command gets its own session.
type SSHExecutor struct {
	cfg SSHConfig
	log zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor validates cfg and returns an executor. No connection is made
// until the first command.
func NewSSHExecutor(cfg SSHConfig, log zerolog.Logger) (*SSHExecutor, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, fmt.Errorf("either password or key_file is required for ssh")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	return &SSHExecutor{cfg: cfg, log: log}, nil
}

func (s *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if s.cfg.KeyFile != "" {
		pem, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		var signer ssh.Signer
		if s.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(s.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if s.cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(s.cfg.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.DialTimeout,
	}, nil
}

// connect returns the live client, dialing if needed. Callers hold s.mu.
func (s *SSHExecutor) connect() (*ssh.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	address := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh dial %s: %v", ErrNotConnected, address, err)
	}
	s.log.Debug().Str("address", address).Str("server", string(client.ServerVersion())).Msg("ssh connected")
	s.client = client
	return client, nil
}

func (s *SSHExecutor) newSession() (*ssh.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	// The connection may have been dropped by the server; redial once.
	s.log.Debug().Err(err).Msg("ssh session failed, reconnecting")
	_ = client.Close()
	s.client = nil
	client, err = s.connect()
	if err != nil {
		return nil, err
	}
	return client.NewSession()
}

// Execute implements Executor.
func (s *SSHExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	timeout = effectiveTimeout(timeout)
	session, err := s.newSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		_ = session.Close()
		return "", &TimeoutError{Command: command, Timeout: timeout}
	case <-ctx.Done():
		_ = session.Close()
		return "", ctx.Err()
	}

	s.log.Debug().Str("command", truncate(command, 100)).Dur("took", time.Since(start)).Msg("ssh command completed")

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return stdout.String(), fmt.Errorf("ssh command failed: %w", err)
		}
		exitCode = exitErr.ExitStatus()
	}
	return finish(command, stdout.String(), stderr.String(), exitCode)
}

// Close terminates the underlying connection.
func (s *SSHExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

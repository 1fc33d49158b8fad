package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig — конфигурация SSHExecutor.
type SSHConfig struct {
	// Addr — host:port. Порт по умолчанию 22.
	Addr string
	User string

	Password   string
	PrivateKey []byte

	// HostKeyCallback обязателен: используйте ssh.FixedHostKey или knownhosts.
	HostKeyCallback ssh.HostKeyCallback

	// Timeout — таймаут установки соединения. По умолчанию 10s.
	Timeout time.Duration

	Logger *slog.Logger
}

// SSHExecutor выполняет команды по SSH. Каждый вызов открывает своё
// соединение: воркеры короткоживущие, пул соединений не нужен.
type SSHExecutor struct {
	addr   string
	client *ssh.ClientConfig
	logger *slog.Logger
}

var _ Executor = (*SSHExecutor)(nil)

// NewSSHExecutor создаёт SSHExecutor.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	var auth []ssh.AuthMethod
	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, ErrNoAuth
	}
	if cfg.HostKeyCallback == nil {
		return nil, ErrNoHostKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	return &SSHExecutor{
		addr: addr,
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: cfg.HostKeyCallback,
			Timeout:         cfg.Timeout,
		},
		logger: cfg.Logger.With("component", "ssh", "addr", addr),
	}, nil
}

// Addr возвращает адрес хоста.
func (e *SSHExecutor) Addr() string {
	return e.addr
}

// ExecSync выполняет cmd и ждёт завершения.
func (e *SSHExecutor) ExecSync(ctx context.Context, cmd string) (Result, error) {
	if cmd == "" {
		return Result{}, ErrEmptyCommand
	}
	res := Result{StartTime: time.Now()}

	client, err := e.dial(ctx)
	if err != nil {
		return res, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return res, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return res, ctx.Err()
	case err = <-done:
	}

	res.Stdout = stdout.String()
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		return res, fmt.Errorf("ssh run: %w", err)
	}

	e.logger.Debug("command finished", "exit_code", res.ExitCode, "duration", time.Since(res.StartTime))
	return res, nil
}

// ExecAsync запускает cmd в фоне и возвращает pid.
func (e *SSHExecutor) ExecAsync(ctx context.Context, cmd string) (string, error) {
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	res, err := e.ExecSync(ctx, backgroundCommand(cmd))
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("start background command: exit code %d", res.ExitCode)
	}
	return parsePID(res.Stdout)
}

func (e *SSHExecutor) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: e.client.Timeout}
	conn, err := d.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", e.addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, e.addr, e.client)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", e.addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

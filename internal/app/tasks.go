package app

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/remote"
	"github.com/shaiso/wip/internal/scheduler"
	"github.com/shaiso/wip/internal/secret"
	"github.com/shaiso/wip/internal/signal"
	"github.com/shaiso/wip/internal/tasks/containerdelegate"
	"github.com/shaiso/wip/internal/tasks/sshcheck"
	"github.com/shaiso/wip/internal/tasks/webhook"
)

// Tasks — зарегистрированные типы task и обработчики cleanup для scheduler.
type Tasks struct {
	Registry *engine.Registry
	Cleanups map[string]scheduler.CleanupFunc
}

// BuildTasks регистрирует типы container, ssh и webhook.
func BuildTasks(s Settings, signals *signal.Service, logger *slog.Logger) (*Tasks, error) {
	sshCfg, err := s.SSH.clientConfig()
	if err != nil {
		return nil, err
	}
	if sshCfg.HostKeyCallback == nil {
		logger.Warn("ssh host key verification not configured, ssh tasks will fail",
			"hint", "set SSH_KNOWN_HOSTS or SSH_INSECURE=true")
	}

	var exec remote.Executor = remote.LocalExecutor{}
	if s.Container.Host != "" {
		cfg := sshCfg
		cfg.Addr = s.Container.Host
		cfg.Logger = logger
		if exec, err = remote.NewSSHExecutor(cfg); err != nil {
			return nil, fmt.Errorf("container host: %w", err)
		}
	}

	delegate, err := containerdelegate.New(containerdelegate.Config{
		Runtime:      remote.NewDockerRuntime(exec, s.Container.DockerBin),
		Signals:      signals,
		PollInterval: s.Container.PollInterval,
		MaxPolls:     s.Container.MaxPolls,
		FailSafe:     s.Container.FailSafe,
		KillRetries:  s.Container.KillRetries,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("container task: %w", err)
	}

	check, err := sshcheck.New(sshcheck.Config{
		Signals:        signals,
		Box:            secret.NewBox(),
		SSH:            sshCfg,
		ConnectRetries: s.SSH.ConnectRetries,
		PollInterval:   s.SSH.PollInterval,
		MaxPolls:       s.SSH.MaxPolls,
		FailSafe:       s.SSH.FailSafe,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh task: %w", err)
	}

	hook, err := webhook.New(webhook.Config{
		RetryWait:  s.Webhook.RetryWait,
		MaxRetries: s.Webhook.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook task: %w", err)
	}

	reg := engine.NewRegistry()
	for _, def := range []*engine.Definition{delegate.Definition(), check.Definition(), hook.Definition()} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return &Tasks{
		Registry: reg,
		Cleanups: map[string]scheduler.CleanupFunc{
			containerdelegate.Resource: delegate.Cleanup,
		},
	}, nil
}

// clientConfig собирает remote.SSHConfig без адреса.
func (h SSHSettings) clientConfig() (remote.SSHConfig, error) {
	cfg := remote.SSHConfig{
		User:     h.User,
		Password: h.Password,
		Timeout:  h.Timeout,
	}
	if h.KeyFile != "" {
		key, err := os.ReadFile(h.KeyFile)
		if err != nil {
			return cfg, fmt.Errorf("%w: SSH_KEY_FILE: %v", ErrBadEnv, err)
		}
		cfg.PrivateKey = key
	}
	switch {
	case h.KnownHosts != "":
		cb, err := knownhosts.New(h.KnownHosts)
		if err != nil {
			return cfg, fmt.Errorf("%w: SSH_KNOWN_HOSTS: %v", ErrBadEnv, err)
		}
		cfg.HostKeyCallback = cb
	case h.Insecure:
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return cfg, nil
}

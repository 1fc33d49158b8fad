package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/mq"
	"github.com/shaiso/wip/internal/scheduler"
)

// Бэкенды блокировок.
const (
	LockBackendSQL   = "sql"
	LockBackendRedis = "redis"
)

// Settings — настройки процесса.
type Settings struct {
	RabbitURL       string
	RedisURL        string
	LockBackend     string
	CallbackBaseURL string

	PollInterval time.Duration
	LockTTL      time.Duration
	SweepCron    string

	Container ContainerSettings
	SSH       SSHSettings
	Webhook   WebhookSettings
}

// ContainerSettings — настройки типа task container.
type ContainerSettings struct {
	// Host — хост docker; пусто — локальный docker.
	Host      string
	DockerBin string

	PollInterval time.Duration
	MaxPolls     int
	FailSafe     time.Duration
	KillRetries  int
}

// SSHSettings — учётные данные SSH и настройки типа task ssh.
type SSHSettings struct {
	User       string
	Password   string
	KeyFile    string
	KnownHosts string

	// Insecure отключает проверку ключа хоста.
	Insecure bool
	Timeout  time.Duration

	ConnectRetries int
	PollInterval   time.Duration
	MaxPolls       int
	FailSafe       time.Duration
}

// WebhookSettings — повторы типа task webhook.
type WebhookSettings struct {
	RetryWait  time.Duration
	MaxRetries int
}

// Load читает Settings из окружения.
func Load() (Settings, error) {
	var (
		s   Settings
		err error
	)
	s.RabbitURL = Env("RABBITMQ_URL", mq.DefaultURL())
	s.RedisURL = Env("REDIS_URL", "redis://localhost:6379/0")
	s.LockBackend = strings.ToLower(Env("LOCK_BACKEND", LockBackendSQL))
	s.CallbackBaseURL = Env("CALLBACK_BASE_URL", "http://localhost:8080")
	s.SweepCron = Env("SWEEP_CRON", scheduler.DefaultPurgeCron)

	switch s.LockBackend {
	case LockBackendSQL, LockBackendRedis:
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownLockBackend, s.LockBackend)
	}
	if err := scheduler.ValidateCronExpr(s.SweepCron); err != nil {
		return s, fmt.Errorf("%w: SWEEP_CRON: %v", ErrBadEnv, err)
	}

	if s.PollInterval, err = EnvDuration("POLL_INTERVAL", 5*time.Second); err != nil {
		return s, err
	}
	if s.LockTTL, err = EnvDuration("LOCK_TTL", lock.DefaultTTL); err != nil {
		return s, err
	}

	c := &s.Container
	c.Host = Env("CONTAINER_HOST", "")
	c.DockerBin = Env("DOCKER_BIN", "docker")
	if c.PollInterval, err = EnvSeconds("CONTAINER_POLL_SEC", 5*time.Second); err != nil {
		return s, err
	}
	if c.MaxPolls, err = EnvInt("CONTAINER_MAX_POLLS", 120); err != nil {
		return s, err
	}
	if c.FailSafe, err = EnvSeconds("CONTAINER_FAILSAFE_SEC", 60*time.Second); err != nil {
		return s, err
	}
	if c.KillRetries, err = EnvInt("CONTAINER_KILL_RETRIES", 3); err != nil {
		return s, err
	}

	h := &s.SSH
	h.User = Env("SSH_USER", "root")
	h.Password = Env("SSH_PASSWORD", "")
	h.KeyFile = Env("SSH_KEY_FILE", "")
	h.KnownHosts = Env("SSH_KNOWN_HOSTS", "")
	if h.Insecure, err = EnvBool("SSH_INSECURE", false); err != nil {
		return s, err
	}
	if h.Timeout, err = EnvDuration("SSH_TIMEOUT", 10*time.Second); err != nil {
		return s, err
	}
	if h.ConnectRetries, err = EnvInt("SSH_CONNECT_RETRIES", 3); err != nil {
		return s, err
	}
	if h.PollInterval, err = EnvSeconds("SSH_POLL_SEC", 5*time.Second); err != nil {
		return s, err
	}
	if h.MaxPolls, err = EnvInt("SSH_MAX_POLLS", 60); err != nil {
		return s, err
	}
	if h.FailSafe, err = EnvSeconds("SSH_FAILSAFE_SEC", 2*time.Minute); err != nil {
		return s, err
	}

	if s.Webhook.RetryWait, err = EnvSeconds("WEBHOOK_RETRY_SEC", 10*time.Second); err != nil {
		return s, err
	}
	if s.Webhook.MaxRetries, err = EnvInt("WEBHOOK_MAX_RETRIES", 5); err != nil {
		return s, err
	}
	return s, nil
}

// Env возвращает значение переменной или def.
func Env(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// EnvInt читает положительное целое.
func EnvInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s=%q: want positive integer", ErrBadEnv, name, v)
	}
	return n, nil
}

// EnvSeconds читает целое число секунд.
func EnvSeconds(name string, def time.Duration) (time.Duration, error) {
	n, err := EnvInt(name, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// EnvDuration читает длительность ("30s", "2m") или целое число секунд.
func EnvDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q: want duration", ErrBadEnv, name, v)
	}
	return d, nil
}

// EnvBool читает true/false.
func EnvBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q: want true or false", ErrBadEnv, name, v)
	}
	return b, nil
}

// Port возвращает адрес ":PORT" из переменной name или def.
func Port(name, def string) string {
	return ":" + Env(name, def)
}

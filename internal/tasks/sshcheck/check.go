package sshcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/remote"
	"github.com/shaiso/wip/internal/secret"
	"github.com/shaiso/wip/internal/signal"
)

// TaskType — имя типа task.
const TaskType = "ssh"

const tableSource = `
start action=seal link=ssh {
  * connect
}

connect:reachable link=ssh {
  ok       run
  ssh_fail connect wait=10 max=3
  !        failure
}

run:finished action=dispatch link=ssh {
  success finish
  fail    failure
  wait    run wait=5 max=60 exec=false
  !       failure
}

failure {
  * finish
}
`

// Table — таблица состояний с настройками по умолчанию.
var Table = engine.MustCompile(tableSource)

const passwordKey = "password"

// Target — куда подключаться.
type Target struct {
	Host     string
	User     string
	Password string
}

// DialFunc создаёт Executor для target.
type DialFunc func(t Target) (remote.Executor, error)

// Config — конфигурация Check.
type Config struct {
	Signals *signal.Service
	Box     *secret.Box

	// SSH — учётные данные и проверка ключа хоста по умолчанию.
	// Addr игнорируется: хост берётся из inputs.
	SSH remote.SSHConfig

	// Dial переопределяет подключение (для тестов).
	Dial DialFunc

	// ConnectWait и ConnectRetries — повторы при недоступном хосте.
	// По умолчанию 10s и 3.
	ConnectWait    time.Duration
	ConnectRetries int

	// PollInterval и MaxPolls — ожидание завершения команды.
	// По умолчанию 5s и 60.
	PollInterval time.Duration
	MaxPolls     int

	// FailSafe — через сколько проверять процесс, не дожидаясь callback.
	// По умолчанию 2m.
	FailSafe time.Duration

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Check реализует actions и evaluators типа ssh.
type Check struct {
	box    *secret.Box
	ssh    remote.SSHConfig
	dial   DialFunc
	waiter *signal.Waiter
	def    *engine.Definition
}

// New создаёт Check и его Definition.
func New(cfg Config) (*Check, error) {
	if cfg.Box == nil {
		cfg.Box = secret.NewBox()
	}
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 10 * time.Second
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if cfg.FailSafe <= 0 {
		cfg.FailSafe = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.SSH.Logger = cfg.Logger

	c := &Check{
		box:    cfg.Box,
		ssh:    cfg.SSH,
		dial:   cfg.Dial,
		waiter: signal.NewWaiter(signal.WaiterConfig{Signals: cfg.Signals, FailSafe: cfg.FailSafe, Now: cfg.Now}),
	}
	if c.dial == nil {
		c.dial = c.dialSSH
	}

	table, err := Table.WithRule("connect", "ssh_fail", func(r *engine.Rule) {
		r.Wait = cfg.ConnectWait
		r.Max = cfg.ConnectRetries
	})
	if err != nil {
		return nil, err
	}
	table, err = table.WithRule("run", "wait", func(r *engine.Rule) {
		r.Wait = cfg.PollInterval
		r.Max = cfg.MaxPolls
	})
	if err != nil {
		return nil, err
	}

	c.def, err = engine.NewDefinition(TaskType, table,
		engine.WithAction("seal", c.seal),
		engine.WithAction("dispatch", c.dispatch),
		engine.WithEvaluator("reachable", c.reachable),
		engine.WithEvaluator("finished", c.finished),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Definition возвращает Definition для engine.Registry.
func (c *Check) Definition() *engine.Definition {
	return c.def
}

// seal проверяет inputs и прячет пароль.
func (c *Check) seal(_ context.Context, sc *engine.StepContext) error {
	if sc.Input("host") == "" {
		sc.SetExit(2, ErrNoHost.Error())
		return ErrNoHost
	}
	if sc.Input("command") == "" {
		sc.SetExit(2, ErrNoCommand.Error())
		return ErrNoCommand
	}

	pw := sc.Input(passwordKey)
	if pw == "" {
		return nil
	}
	if err := secret.Set(sc.Scope, c.box, passwordKey, pw); err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	delete(sc.Inputs, passwordKey)
	return nil
}

func (c *Check) executor(sc *engine.StepContext) (remote.Executor, error) {
	t := Target{Host: sc.Input("host"), User: sc.Input("user")}
	pw, err := secret.Get(sc.Scope, c.box, passwordKey)
	switch {
	case err == nil:
		t.Password = pw
	case !errors.Is(err, secret.ErrNotFound):
		return nil, err
	}
	return c.dial(t)
}

func (c *Check) dialSSH(t Target) (remote.Executor, error) {
	cfg := c.ssh
	cfg.Addr = t.Host
	if t.User != "" {
		cfg.User = t.User
	}
	if t.Password != "" {
		cfg.Password = t.Password
	}
	return remote.NewSSHExecutor(cfg)
}

// reachable проверяет, что хост принимает команды.
func (c *Check) reachable(ctx context.Context, sc *engine.StepContext) (string, error) {
	ex, err := c.executor(sc)
	if err != nil {
		return "", err
	}
	res, err := ex.ExecSync(ctx, "true")
	if err != nil {
		sc.Logger.Warn("host unreachable", "host", sc.Input("host"), "error", err)
		return "ssh_fail", nil
	}
	if !res.OK() {
		return "ssh_fail", nil
	}
	return "ok", nil
}

// dispatch запускает команду в фоне; по завершении она вызывает callback.
func (c *Check) dispatch(ctx context.Context, sc *engine.StepContext) error {
	ex, err := c.executor(sc)
	if err != nil {
		return err
	}
	_, err = c.waiter.Dispatch(ctx, sc.Scope, sc.TaskID, func(ctx context.Context, cb signal.Callback) (string, error) {
		return ex.ExecAsync(ctx, CallbackCommand(sc.Input("command"), cb.URL))
	})
	return err
}

// finished ждёт callback; после fail-safe проверяет, жив ли процесс.
func (c *Check) finished(ctx context.Context, sc *engine.StepContext) (string, error) {
	ex, err := c.executor(sc)
	if err != nil {
		return "", err
	}
	outcome, result, err := c.waiter.Check(ctx, sc.Scope, func(ctx context.Context, pid string) (signal.Outcome, map[string]any, error) {
		res, err := ex.ExecSync(ctx, remote.AliveCommand(pid))
		if err != nil {
			sc.Logger.Warn("probe process", "pid", pid, "error", err)
			return signal.OutcomeWait, nil, nil
		}
		if res.OK() {
			return signal.OutcomeWait, nil, nil
		}
		return signal.OutcomeFail, map[string]any{"exit_message": "process exited without callback"}, nil
	})
	if err != nil {
		return "", err
	}

	if outcome == signal.OutcomeFail {
		code, msg := 1, "command failed"
		if n, ok := result["exit_code"].(float64); ok && n != 0 {
			code = int(n)
			msg = fmt.Sprintf("command exited with code %d", code)
		}
		if s, ok := result["exit_message"].(string); ok && s != "" {
			msg = s
		}
		sc.SetExit(code, msg)
	}
	return string(outcome), nil
}

// CallbackCommand оборачивает cmd так, что по завершении он отправляет
// свой код в url.
func CallbackCommand(cmd, url string) string {
	return "(" + cmd + "); code=$?; curl -fsS -m 30 -X POST -H 'Content-Type: application/json' " +
		`-d "{\"exit_code\":$code}" ` + remote.ShellQuote(url)
}

package containerdelegate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/remote"
	"github.com/shaiso/wip/internal/scope"
	"github.com/shaiso/wip/internal/signal"
)

// TaskType — имя типа task.
const TaskType = "container"

// Resource — имя ресурса в запросах cleanup.
const Resource = "container"

const tableSource = `
start {
  * run
}

run:status action=launch link=job {
  success collect
  fail    collect
  wait    run wait=5 max=120 exec=false
  !       kill
}

collect:collected link=job {
  ok     finish
  failed failure
  !      failure
}

kill:killed action=kill link=job {
  ok    failure
  retry kill wait=5 max=3
}

failure {
  * finish
}
`

// Table — таблица состояний с настройками по умолчанию.
var Table = engine.MustCompile(tableSource)

// Config — конфигурация Delegate.
type Config struct {
	Runtime remote.Runtime
	Signals *signal.Service

	// PollInterval — пауза между проверками статуса. По умолчанию 5s.
	PollInterval time.Duration

	// MaxPolls — сколько проверок подряд может вернуть wait. По умолчанию 120.
	MaxPolls int

	// FailSafe — через сколько после запуска опрашивать runtime,
	// не дожидаясь callback. По умолчанию 60s.
	FailSafe time.Duration

	// KillRetries — повторы удаления контейнера. По умолчанию 3.
	KillRetries int

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Delegate реализует actions и evaluators типа container.
type Delegate struct {
	runtime remote.Runtime
	signals *signal.Service
	waiter  *signal.Waiter
	def     *engine.Definition
	logger  *slog.Logger
}

var (
	keyExitCode    = scope.NewKey[int]("exit_code")
	keyExitMessage = scope.NewKey[string]("exit_message")
)

// New создаёт Delegate и его Definition.
func New(cfg Config) (*Delegate, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 120
	}
	if cfg.FailSafe <= 0 {
		cfg.FailSafe = 60 * time.Second
	}
	if cfg.KillRetries <= 0 {
		cfg.KillRetries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Delegate{
		runtime: cfg.Runtime,
		signals: cfg.Signals,
		waiter:  signal.NewWaiter(signal.WaiterConfig{Signals: cfg.Signals, FailSafe: cfg.FailSafe, Now: cfg.Now}),
		logger:  cfg.Logger.With("task_type", TaskType),
	}

	table, err := Table.WithRule("run", "wait", func(r *engine.Rule) {
		r.Wait = cfg.PollInterval
		r.Max = cfg.MaxPolls
	})
	if err != nil {
		return nil, err
	}
	table, err = table.WithRule("kill", "retry", func(r *engine.Rule) {
		r.Wait = cfg.PollInterval
		r.Max = cfg.KillRetries
	})
	if err != nil {
		return nil, err
	}

	d.def, err = engine.NewDefinition(TaskType, table,
		engine.WithAction("launch", d.launch),
		engine.WithAction("kill", d.kill),
		engine.WithEvaluator("status", d.status),
		engine.WithEvaluator("collected", d.collected),
		engine.WithEvaluator("killed", d.killed),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Definition возвращает Definition для engine.Registry.
func (d *Delegate) Definition() *engine.Definition {
	return d.def
}

// launch запускает контейнер и регистрирует запрос cleanup.
func (d *Delegate) launch(ctx context.Context, sc *engine.StepContext) error {
	if d.runtime == nil {
		return ErrNoRuntime
	}
	image := sc.Input("image")
	if image == "" {
		sc.SetExit(2, ErrNoImage.Error())
		return ErrNoImage
	}

	spec := remote.LaunchSpec{
		Image:  image,
		Env:    stringMap(sc.Inputs["env"]),
		Labels: map[string]string{"wip.task": strconv.FormatInt(sc.TaskID, 10)},
	}
	if cmd := sc.Input("command"); cmd != "" {
		spec.Command = []string{"sh", "-c", cmd}
	}

	_, err := d.waiter.Dispatch(ctx, sc.Scope, sc.TaskID, func(ctx context.Context, cb signal.Callback) (string, error) {
		spec.CallbackURL = cb.URL
		return d.runtime.Launch(ctx, spec)
	})
	if err != nil {
		return err
	}

	handle := scope.MustGet(sc.Scope, signal.KeyHandle)
	if _, err := d.signals.RequestCleanup(ctx, sc.TaskID, Resource, map[string]any{"handle": handle}); err != nil {
		return fmt.Errorf("request cleanup: %w", err)
	}
	sc.Logger.Info("container launched", "handle", handle, "image", image)
	return nil
}

// status ждёт callback или, после fail-safe, опрашивает runtime.
func (d *Delegate) status(ctx context.Context, sc *engine.StepContext) (string, error) {
	outcome, _, err := d.waiter.Check(ctx, sc.Scope, d.probe)
	if err != nil {
		return "", err
	}
	return string(outcome), nil
}

func (d *Delegate) probe(ctx context.Context, handle string) (signal.Outcome, map[string]any, error) {
	st, err := d.runtime.Status(ctx, handle)
	if err != nil {
		return "", nil, err
	}
	if !st.Done() {
		return signal.OutcomeWait, nil, nil
	}
	res, err := d.runtime.Result(ctx, handle)
	if err != nil {
		return "", nil, err
	}
	result := map[string]any{"exit_code": res.ExitCode, "exit_message": res.ExitMessage}
	if st == remote.StatusFailed {
		return signal.OutcomeFail, result, nil
	}
	return signal.OutcomeSuccess, result, nil
}

// collected фиксирует код завершения и удаляет контейнер.
func (d *Delegate) collected(ctx context.Context, sc *engine.StepContext) (string, error) {
	handle := scope.MustGet(sc.Scope, signal.KeyHandle)

	code, msg := d.exitOf(ctx, sc.Scope, handle)
	scope.Set(sc.Scope, keyExitCode, code)
	scope.Set(sc.Scope, keyExitMessage, msg)

	if err := d.remove(ctx, sc, handle); err != nil {
		// запрос cleanup остаётся, контейнер удалит scheduler
		sc.Logger.Warn("remove container", "handle", handle, "error", err)
	}

	if code != 0 {
		sc.SetExit(code, msg)
		return "failed", nil
	}
	sc.SetExit(0, msg)
	return "ok", nil
}

// exitOf берёт код завершения из результата callback; если его там нет,
// спрашивает runtime.
func (d *Delegate) exitOf(ctx context.Context, view *scope.View, handle string) (int, string) {
	result := signal.Result(view)
	code, ok := exitCode(result)
	msg, _ := result["exit_message"].(string)
	if ok {
		if code != 0 && msg == "" {
			msg = fmt.Sprintf("container exited with code %d", code)
		}
		return code, msg
	}
	if signal.PayloadOutcome(result) == signal.OutcomeFail {
		code = 1
	}

	res, err := d.runtime.Result(ctx, handle)
	if err != nil {
		d.logger.Warn("container result", "handle", handle, "error", err)
		if code != 0 {
			return code, "container failed"
		}
		return 0, ""
	}
	if res.ExitCode != 0 {
		code = res.ExitCode
	}
	return code, res.ExitMessage
}

// kill удаляет контейнер после ошибки.
func (d *Delegate) kill(ctx context.Context, sc *engine.StepContext) error {
	handle := scope.MustGet(sc.Scope, signal.KeyHandle)
	if handle == "" {
		return nil
	}
	return d.remove(ctx, sc, handle)
}

// killed проверяет, что контейнер больше не работает.
func (d *Delegate) killed(ctx context.Context, sc *engine.StepContext) (string, error) {
	handle := scope.MustGet(sc.Scope, signal.KeyHandle)
	if handle == "" {
		return "ok", nil
	}
	st, err := d.runtime.Status(ctx, handle)
	if err != nil {
		// docker rm -f удалил контейнер целиком
		return "ok", nil
	}
	if st == remote.StatusRunning || st == remote.StatusWait {
		return "retry", nil
	}
	return "ok", nil
}

func (d *Delegate) remove(ctx context.Context, sc *engine.StepContext, handle string) error {
	if err := d.runtime.Kill(ctx, handle); err != nil {
		return err
	}
	if _, err := d.signals.CancelCleanup(ctx, sc.TaskID, Resource); err != nil {
		return fmt.Errorf("cancel cleanup: %w", err)
	}
	return nil
}

// Cleanup удаляет контейнер по запросу cleanup. Подходит для
// scheduler.Config.Cleanups.
func (d *Delegate) Cleanup(ctx context.Context, sig *domain.Signal) error {
	handle, _ := sig.Payload["handle"].(string)
	if handle == "" {
		return ErrNoHandle
	}
	if d.runtime == nil {
		return ErrNoRuntime
	}
	return d.runtime.Kill(ctx, handle)
}

func exitCode(result map[string]any) (int, bool) {
	switch v := result["exit_code"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}

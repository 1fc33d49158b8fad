package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/wip/internal/domain"
)

// StepResult — результат одного шага. Отделён от Go-ошибок:
// неудачный action — это переход по "!", а не ошибка Step.
type StepResult struct {
	TaskID int64
	From   string
	To     string

	// Key — результат evaluator.
	Key string

	// Pattern — паттерн выбранного правила ("force" для принудительного перехода).
	Pattern string

	// Err — ошибка action/evaluator или причина перехода по "!".
	Err error

	// Forced — правило совпало больше max раз и выбран "!".
	Forced bool

	// Skipped — action не вызывался (exec=false).
	Skipped bool

	// Wait — задержка перед следующим шагом.
	Wait time.Duration

	// Finished — task достиг finish.
	Finished bool

	// ExitCode — код завершения (если Finished).
	ExitCode int

	Duration time.Duration
}

// Outcome — короткое имя результата для логов и метрик.
func (r *StepResult) Outcome() string {
	switch {
	case r.Finished && r.ExitCode != 0:
		return "failed"
	case r.Finished:
		return "finished"
	case r.Forced:
		return "exhausted"
	case r.Err != nil:
		return "error"
	case r.Wait > 0:
		return "wait"
	default:
		return "ok"
	}
}

// ExecutorConfig — конфигурация Executor.
type ExecutorConfig struct {
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Executor выполняет ровно один шаг FSM за вызов.
// Не хранит состояние между вызовами: всё живёт в task.
type Executor struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor создаёт Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{logger: cfg.Logger, now: cfg.Now}
}

// Step выполняет один шаг task по таблице def.
//
// Порядок: action (если не пропущен) → evaluator → выбор правила
// (литерал, затем "*"; ошибка или отсутствие совпадения → "!") →
// учёт max → переход. Вызывающий держит lock строки task и сохраняет
// task после возврата.
func (e *Executor) Step(ctx context.Context, def *Definition, task *domain.Task) (*StepResult, error) {
	if task.IsFinished() {
		return nil, ErrTaskFinished
	}

	start := e.now()
	res := &StepResult{TaskID: task.ID, From: task.State}
	logger := e.logger.With("task_id", task.ID, "type", task.Type, "state", task.State)

	task.Steps++
	task.ModifiedAt = start
	if task.Context == nil {
		task.Context = def.NewContext()
	}

	if task.ForceState != "" {
		target := task.ForceState
		task.ForceState = ""
		if !def.table.Has(target) {
			return nil, fmt.Errorf("%w: forced %s", ErrUnknownState, target)
		}
		task.Retry.Reset()
		logger.Info("forced transition", "to", target)
		e.transition(task, res, Rule{Pattern: "force", Next: target, Exec: true}, start)
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	st, ok := def.table.State(task.State)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownState, task.State)
		e.takeError(task, res, &State{Name: task.State}, def.table, start)
		logger.Error("task in unknown state", "error", res.Err)
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	sc := &StepContext{
		TaskID: task.ID,
		Group:  task.Group,
		Type:   task.Type,
		Inputs: task.Inputs,
		State:  st.Name,
		Scope:  task.Context.For(st.Name),
		Logger: logger,
		task:   task,
	}

	var err error
	if task.SkipAction {
		res.Skipped = true
	} else if fn := def.actions[st.Action]; fn != nil {
		err = invokeAction(ctx, fn, sc)
	}
	task.SkipAction = false

	if err == nil && st.Evaluator != "" {
		res.Key, err = invokeEvaluator(ctx, def.evaluators[st.Evaluator], sc)
	}

	if err != nil {
		res.Err = err
		e.takeError(task, res, &st, def.table, start)
		logger.Warn("step failed", "error", err, "to", res.To)
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	idx, rule, ok := st.Match(res.Key)
	if !ok {
		res.Err = fmt.Errorf("%w: state %s, result %q", ErrNoMatchingRule, st.Name, res.Key)
		e.takeError(task, res, &st, def.table, start)
		logger.Warn("no matching rule", "key", res.Key, "to", res.To)
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	if n := task.Retry.Hit(st.Name, idx); rule.Max > 0 && n > rule.Max {
		res.Forced = true
		res.Err = fmt.Errorf("%w: state %s, rule %s, %d attempts", ErrRetriesExhausted, st.Name, rule.Pattern, rule.Max)
		e.takeError(task, res, &st, def.table, start)
		logger.Warn("retries exhausted", "rule", rule.Pattern, "max", rule.Max, "to", res.To)
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	e.transition(task, res, rule, start)
	logger.Debug("step",
		"key", res.Key,
		"rule", rule.Pattern,
		"to", res.To,
		"wait", res.Wait,
		"skipped", res.Skipped,
	)
	res.Duration = e.now().Sub(start)
	return res, nil
}

// takeError выполняет переход по "!" состояния st.
//
// Ошибка на пути failure сразу завершает task. Без правила "!" task уходит
// в failure, если оно объявлено, иначе завершается.
func (e *Executor) takeError(task *domain.Task, res *StepResult, st *State, table *Table, now time.Time) {
	task.Failed = true
	task.Retry.Reset()
	if !task.ExitSet && res.Err != nil {
		task.ExitMessage = exitMessage(res.Err)
	}

	_, rule, ok := st.ErrorRule()
	switch {
	case table.OnFailurePath(st.Name):
		rule = Rule{Pattern: PatternError, Next: StateFinish, Exec: true}
	case !ok && table.Has(StateFailure):
		rule = Rule{Pattern: PatternError, Next: StateFailure, Exec: true}
	case !ok:
		rule = Rule{Pattern: PatternError, Next: StateFinish, Exec: true}
	}
	e.transition(task, res, rule, now)
}

// transition переводит task по правилу.
func (e *Executor) transition(task *domain.Task, res *StepResult, rule Rule, now time.Time) {
	task.State = rule.Next
	task.SkipAction = !rule.Exec
	res.To = rule.Next
	res.Pattern = rule.Pattern
	res.Wait = rule.Wait
	task.NextRunAt = now.Add(rule.Wait)

	if rule.Next != StateFinish {
		return
	}

	code, msg := 0, task.ExitMessage
	switch {
	case task.ExitSet:
		code = task.ExitCode
	case task.Failed:
		code = 1
	default:
		msg = ""
	}
	task.SkipAction = false
	task.Retry.Reset()
	task.MarkFinished(now, code, msg)
	task.Context.Clear()
	res.Finished = true
	res.ExitCode = code
	res.Wait = 0
}

// exitMessage — сообщение для пользователя без цепочки обёрток.
func exitMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}

func invokeAction(ctx context.Context, fn Action, sc *StepContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: action %s: %v", ErrActionPanic, sc.State, r)
		}
	}()
	return fn(ctx, sc)
}

func invokeEvaluator(ctx context.Context, fn Evaluator, sc *StepContext) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: evaluator %s: %v", ErrActionPanic, sc.State, r)
		}
	}()
	if fn == nil {
		return "", nil
	}
	return fn(ctx, sc)
}

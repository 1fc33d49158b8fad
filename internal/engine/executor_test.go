package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shaiso/wip/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestExecutor() *Executor {
	return NewExecutor(ExecutorConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return testNow },
	})
}

// keys возвращает evaluator, отдающий результаты по очереди.
func keys(results ...string) Evaluator {
	i := 0
	return func(context.Context, *StepContext) (string, error) {
		k := results[i]
		if i < len(results)-1 {
			i++
		}
		return k, nil
	}
}

func mustDefinition(t *testing.T, src string, opts ...Option) *Definition {
	t.Helper()
	def, err := NewDefinition("test", MustCompile(src), opts...)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	return def
}

func newTask(def *Definition) *domain.Task {
	task := def.NewTask("g", map[string]any{"host": "db1", "port": 22})
	task.ID = 7
	return task
}

func step(t *testing.T, e *Executor, def *Definition, task *domain.Task) *StepResult {
	t.Helper()
	res, err := e.Step(context.Background(), def, task)
	if err != nil {
		t.Fatalf("step in %s: %v", task.State, err)
	}
	return res
}

func TestStep_RetriesExhaustedForcesError(t *testing.T) {
	def := mustDefinition(t,
		`start{*->a} a:evalA{yes->b; *->a max=2 wait=5} b{*->finish}`,
		WithEvaluator("evalA", keys("no", "no", "no")),
	)
	e := newTestExecutor()
	task := newTask(def)

	step(t, e, def, task) // start → a

	for i := 1; i <= 2; i++ {
		res := step(t, e, def, task)
		if res.To != "a" || res.Forced {
			t.Fatalf("evaluation %d: to=%s forced=%v", i, res.To, res.Forced)
		}
		if res.Wait != 5*time.Second || !task.NextRunAt.Equal(testNow.Add(5*time.Second)) {
			t.Errorf("evaluation %d: wait=%v next_run_at=%v", i, res.Wait, task.NextRunAt)
		}
	}

	res := step(t, e, def, task)
	if !res.Forced || !errors.Is(res.Err, ErrRetriesExhausted) {
		t.Fatalf("third evaluation must be forced to !, got %+v", res)
	}
	// нет правила "!" и нет failure: task завершается с кодом 1
	if !res.Finished || task.ExitCode != 1 || !task.Failed {
		t.Errorf("finished=%v exit=%d failed=%v", res.Finished, task.ExitCode, task.Failed)
	}
	if task.ExitMessage == "" {
		t.Error("exit message must be set")
	}
}

func TestStep_RetryCounterResetsOnOtherRule(t *testing.T) {
	def := mustDefinition(t,
		`start{*->a} a:evalA{yes->a; *->a max=2}`,
		WithEvaluator("evalA", keys("no", "no", "yes", "no", "no")),
	)
	e := newTestExecutor()
	task := newTask(def)
	step(t, e, def, task)

	for i := 0; i < 5; i++ {
		if res := step(t, e, def, task); res.Forced {
			t.Fatalf("step %d forced: matches were not consecutive", i)
		}
	}
	if res := step(t, e, def, task); !res.Forced {
		t.Error("third consecutive no must be forced")
	}
}

func TestStep_SuccessPath(t *testing.T) {
	var calls []string
	def := mustDefinition(t,
		`start{*->a} a:evalA link=shared{yes->b} b link=shared{*->finish}`,
		WithEvaluator("evalA", keys("yes")),
		WithAction("a", func(_ context.Context, sc *StepContext) error {
			calls = append(calls, "a")
			sc.Scope.Set("job", sc.Input("host"))
			return nil
		}),
		WithAction("b", func(_ context.Context, sc *StepContext) error {
			calls = append(calls, "b")
			if got := sc.Scope.String("job"); got != "db1" {
				t.Errorf("linked scope: job = %q", got)
			}
			return nil
		}),
	)
	e := newTestExecutor()
	task := newTask(def)

	var last *StepResult
	for !task.IsFinished() {
		last = step(t, e, def, task)
	}

	if len(calls) != 2 {
		t.Errorf("actions = %v", calls)
	}
	if last.Outcome() != "finished" || task.ExitCode != 0 || task.Failed {
		t.Errorf("outcome=%s exit=%d failed=%v", last.Outcome(), task.ExitCode, task.Failed)
	}
	if task.Steps != 3 {
		t.Errorf("steps = %d, want 3", task.Steps)
	}
	if task.Context.Len() != 0 {
		t.Error("context must be cleared on finish")
	}
	if task.FinishedAt == nil || !task.FinishedAt.Equal(testNow) {
		t.Errorf("finished_at = %v", task.FinishedAt)
	}
}

func TestStep_ErrorTakesBangRule(t *testing.T) {
	boom := errors.New("connection refused")
	def := mustDefinition(t,
		`start{* run} run{* finish; ! failure} failure{* finish}`,
		WithAction("run", func(context.Context, *StepContext) error { return boom }),
	)
	e := newTestExecutor()
	task := newTask(def)
	task.State = "run"

	res := step(t, e, def, task)
	if res.To != "failure" || res.Pattern != PatternError || !errors.Is(res.Err, boom) {
		t.Fatalf("result = %+v", res)
	}
	if !task.Failed || task.ExitMessage != "connection refused" {
		t.Errorf("failed=%v msg=%q", task.Failed, task.ExitMessage)
	}

	res = step(t, e, def, task)
	if !res.Finished || task.ExitCode != 1 || res.Outcome() != "failed" {
		t.Errorf("finish: %+v exit=%d", res, task.ExitCode)
	}
	if task.ExitMessage != "connection refused" {
		t.Errorf("exit message lost: %q", task.ExitMessage)
	}
}

func TestStep_NoBangRuleFallsBackToFailure(t *testing.T) {
	def := mustDefinition(t,
		`start:ev{ok finish} failure{* finish}`,
		WithEvaluator("ev", keys("unexpected")),
	)
	e := newTestExecutor()
	task := newTask(def)

	res := step(t, e, def, task)
	if res.To != StateFailure || !errors.Is(res.Err, ErrNoMatchingRule) {
		t.Fatalf("result = %+v", res)
	}
}

func TestStep_ErrorOnFailurePathFinishes(t *testing.T) {
	def := mustDefinition(t,
		`start{! failure; * finish} failure{* cleanup; ! cleanup} cleanup{* finish}`,
		WithAction("failure", func(context.Context, *StepContext) error {
			return errors.New("cleanup unreachable")
		}),
	)
	e := newTestExecutor()
	task := newTask(def)
	task.State = StateFailure

	res := step(t, e, def, task)
	if !res.Finished || res.To != StateFinish || task.ExitCode != 1 {
		t.Errorf("result = %+v exit=%d", res, task.ExitCode)
	}
}

func TestStep_PanicRecovered(t *testing.T) {
	def := mustDefinition(t,
		`start:ev{* finish; ! finish}`,
		WithEvaluator("ev", func(context.Context, *StepContext) (string, error) {
			panic("nil map")
		}),
	)
	e := newTestExecutor()
	task := newTask(def)

	res := step(t, e, def, task)
	if !errors.Is(res.Err, ErrActionPanic) || !res.Finished || task.ExitCode != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestStep_ExecFalseSkipsAction(t *testing.T) {
	launches := 0
	def := mustDefinition(t,
		`start{* run} run:status{wait run exec=false; done finish}`,
		WithAction("run", func(context.Context, *StepContext) error {
			launches++
			return nil
		}),
		WithEvaluator("status", keys("wait", "wait", "done")),
	)
	e := newTestExecutor()
	task := newTask(def)

	step(t, e, def, task)
	res := step(t, e, def, task)
	if res.Skipped || launches != 1 || !task.SkipAction {
		t.Fatalf("first run: skipped=%v launches=%d skip_next=%v", res.Skipped, launches, task.SkipAction)
	}
	res = step(t, e, def, task)
	if !res.Skipped || launches != 1 {
		t.Fatalf("second run: skipped=%v launches=%d", res.Skipped, launches)
	}
	res = step(t, e, def, task)
	if !res.Skipped || !res.Finished || launches != 1 {
		t.Errorf("third run: %+v launches=%d", res, launches)
	}
}

func TestStep_SetExit(t *testing.T) {
	def := mustDefinition(t,
		`start{* collect} collect{* finish}`,
		WithAction("collect", func(_ context.Context, sc *StepContext) error {
			sc.SetExit(3, "container exited with 3")
			return nil
		}),
	)
	e := newTestExecutor()
	task := newTask(def)
	step(t, e, def, task)
	step(t, e, def, task)

	if task.ExitCode != 3 || task.ExitMessage != "container exited with 3" {
		t.Errorf("exit = %d %q", task.ExitCode, task.ExitMessage)
	}
}

func TestStep_ForceState(t *testing.T) {
	called := false
	def := mustDefinition(t,
		`start:ev{* start max=1; ! failure} failure{* finish}`,
		WithEvaluator("ev", keys("x")),
		WithAction("start", func(context.Context, *StepContext) error {
			called = true
			return nil
		}),
	)
	e := newTestExecutor()
	task := newTask(def)
	task.Failed = true
	task.Retry.Hit("start", 0)
	task.ForceState = StateFailure

	res := step(t, e, def, task)
	if called || res.To != StateFailure || res.Pattern != "force" {
		t.Errorf("result = %+v called=%v", res, called)
	}
	if task.ForceState != "" || task.Retry.Count != 0 || !task.Failed {
		t.Errorf("task after force: %+v", task)
	}

	task.ForceState = "ghost"
	if _, err := e.Step(context.Background(), def, task); !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState, got %v", err)
	}
}

func TestStep_FinishedTask(t *testing.T) {
	def := mustDefinition(t, `start{* finish}`)
	e := newTestExecutor()
	task := newTask(def)
	step(t, e, def, task)

	if _, err := e.Step(context.Background(), def, task); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("expected ErrTaskFinished, got %v", err)
	}
}

func TestStep_UnknownStateFails(t *testing.T) {
	def := mustDefinition(t, `start{* finish}`)
	e := newTestExecutor()
	task := newTask(def)
	task.State = "removed"

	res := step(t, e, def, task)
	if !res.Finished || !errors.Is(res.Err, ErrUnknownState) || task.ExitCode != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestNewDefinition_Errors(t *testing.T) {
	table := MustCompile(`start:ev{* finish}`)

	if _, err := NewDefinition("x", table); !errors.Is(err, ErrUnknownEvaluator) {
		t.Errorf("expected ErrUnknownEvaluator, got %v", err)
	}

	noop := func(context.Context, *StepContext) error { return nil }
	ev := WithEvaluator("ev", keys("a"))
	if _, err := NewDefinition("x", table, ev, WithAction("strat", noop)); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
	if _, err := NewDefinition("x", table, ev, WithAction("start", noop)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	def := mustDefinition(t, `start{* finish}`)

	if err := reg.Register(def); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(def); !errors.Is(err, ErrDuplicateTaskType) {
		t.Errorf("expected ErrDuplicateTaskType, got %v", err)
	}
	if got, err := reg.Get("test"); err != nil || got != def {
		t.Errorf("Get = %v, %v", got, err)
	}
	if _, err := reg.Get("nope"); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestDefinition_NewContextSealed(t *testing.T) {
	def := mustDefinition(t, `start link=job{* run} run link=job{* finish}`)
	store := def.NewContext()
	if store.ScopeOf("run") != "job" || store.ScopeOf("start") != "job" {
		t.Errorf("links = %v", store.Links)
	}
	if err := store.Link("start", "other"); err == nil {
		t.Error("links must be sealed")
	}
}

package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/repo"
	"github.com/shaiso/wip/internal/signal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memLocker — Locker в памяти. lose=true имитирует истёкший lease.
type memLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	taken map[string]bool // заняты "другим" владельцем
	lose  bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}, taken: map[string]bool{}}
}

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken[key] || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Extend(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key] && !l.lose, nil
}

func (l *memLocker) Owner() string { return "mem" }

func (l *memLocker) Release(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok := l.held[key]
	delete(l.held, key)
	return ok, nil
}

func (l *memLocker) IsFree(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.held[key] && !l.taken[key], nil
}

func (l *memLocker) IsMine(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key] && !l.lose, nil
}

type recordingWaker struct {
	ids []int64
}

func (w *recordingWaker) PublishTaskDue(_ context.Context, id int64) error {
	w.ids = append(w.ids, id)
	return nil
}

type fixture struct {
	w      *Worker
	tasks  *repo.MemoryTaskRepo
	locker *memLocker
	waker  *recordingWaker
	reg    *engine.Registry
}

func newFixture(t *testing.T, signals *signal.Service) *fixture {
	t.Helper()
	reg := engine.NewRegistry()
	def, err := engine.NewDefinition("two-step",
		engine.MustCompile(`start{* -> probe} probe:check{ready -> finish; * -> probe wait=30}`),
		engine.WithEvaluator("check", func(_ context.Context, sc *engine.StepContext) (string, error) {
			return sc.Input("answer"), nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(def); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		tasks:  repo.NewMemoryTaskRepo(),
		locker: newMemLocker(),
		waker:  &recordingWaker{},
		reg:    reg,
	}
	f.w = New(Config{
		Tasks:    f.tasks,
		Registry: reg,
		Locker:   f.locker,
		Signals:  signals,
		Waker:    f.waker,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) create(t *testing.T, taskType, answer string) int64 {
	t.Helper()
	task := domain.NewTask(taskType, "g", map[string]any{"answer": answer})
	task.NextRunAt = testNow
	if def, err := f.reg.Get(taskType); err == nil {
		task.Context = def.NewContext()
	}
	if err := f.tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task.ID
}

func (f *fixture) get(t *testing.T, id int64) *domain.Task {
	t.Helper()
	task, err := f.tasks.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestPoll_DrivesTaskToFinish(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, "two-step", "ready")

	if n := f.w.Poll(context.Background()); n != 1 {
		t.Fatalf("first poll steps = %d, want 1", n)
	}
	if got := f.get(t, id); got.State != "probe" || got.Steps != 1 {
		t.Fatalf("after first poll: state=%s steps=%d", got.State, got.Steps)
	}
	if len(f.waker.ids) != 1 || f.waker.ids[0] != id {
		t.Errorf("waker = %v, want [%d]", f.waker.ids, id)
	}

	f.w.Poll(context.Background())
	got := f.get(t, id)
	if !got.IsFinished() || got.ExitCode != 0 {
		t.Fatalf("status=%s exit=%d", got.Status, got.ExitCode)
	}
	if len(f.waker.ids) != 1 {
		t.Errorf("finished task must not be woken: %v", f.waker.ids)
	}
	if n := f.w.Poll(context.Background()); n != 0 {
		t.Errorf("finished task stepped again: %d", n)
	}
}

func TestProcessTask_WaitAndWake(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, "two-step", "not-yet")
	ctx := context.Background()

	if _, err := f.w.ProcessTask(ctx, id, false); err != nil {
		t.Fatal(err)
	}
	res, err := f.w.ProcessTask(ctx, id, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Wait != 30*time.Second {
		t.Fatalf("wait = %v, want 30s", res.Wait)
	}

	// время ещё не пришло
	if _, err := f.w.ProcessTask(ctx, id, false); !errors.Is(err, ErrTaskNotDue) {
		t.Fatalf("expected ErrTaskNotDue, got %v", err)
	}
	// сигнал будит task досрочно
	if _, err := f.w.ProcessTask(ctx, id, true); err != nil {
		t.Fatalf("wake: %v", err)
	}
	if got := f.get(t, id); got.Steps != 3 {
		t.Errorf("steps = %d, want 3", got.Steps)
	}
}

func TestProcessTask_PausedAndMissing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.create(t, "two-step", "ready")

	task := f.get(t, id)
	task.Paused = true
	if err := f.tasks.Update(ctx, task); err != nil {
		t.Fatal(err)
	}
	if _, err := f.w.ProcessTask(ctx, id, true); !errors.Is(err, ErrTaskNotDue) {
		t.Errorf("paused: expected ErrTaskNotDue, got %v", err)
	}
	if _, err := f.w.ProcessTask(ctx, 999, false); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("missing: expected ErrTaskNotFound, got %v", err)
	}
}

func TestProcessTask_LockHeldElsewhere(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, "two-step", "ready")
	f.locker.taken[lock.Key(lock.PrefixUpdate, id)] = true

	_, err := f.w.ProcessTask(context.Background(), id, false)
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if got := f.get(t, id); got.Steps != 0 || got.State != "start" {
		t.Errorf("task changed without lock: %+v", got)
	}

	// Poll пропускает занятый task без ошибки
	if n := f.w.Poll(context.Background()); n != 0 {
		t.Errorf("poll steps = %d, want 0", n)
	}
	if err := f.w.handle(context.Background(), id, false); err != nil {
		t.Errorf("handle must ack contended task: %v", err)
	}
}

func TestProcessTask_LockLostDiscardsStep(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, "two-step", "ready")
	f.locker.lose = true

	_, err := f.w.ProcessTask(context.Background(), id, false)
	if !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
	if got := f.get(t, id); got.Steps != 0 {
		t.Errorf("step persisted after lock loss: steps=%d", got.Steps)
	}
	if free, _ := f.locker.IsFree(context.Background(), lock.Key(lock.PrefixUpdate, id)); !free {
		t.Error("lock not released")
	}
}

func TestProcessTask_UnknownTypeFails(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, "nope", "")

	_, err := f.w.ProcessTask(context.Background(), id, false)
	if !errors.Is(err, engine.ErrUnknownTaskType) {
		t.Fatalf("expected ErrUnknownTaskType, got %v", err)
	}
	got := f.get(t, id)
	if !got.IsFinished() || got.ExitCode != 1 || !got.Failed {
		t.Errorf("status=%s exit=%d failed=%v", got.Status, got.ExitCode, got.Failed)
	}
}

func TestProcessTask_ForcedUnknownStateIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.create(t, "two-step", "ready")

	task := f.get(t, id)
	task.ForceState = "ghost"
	if err := f.tasks.Update(ctx, task); err != nil {
		t.Fatal(err)
	}

	if _, err := f.w.ProcessTask(ctx, id, false); !errors.Is(err, engine.ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
	if got := f.get(t, id); got.ForceState != "" || got.State != "start" {
		t.Errorf("force_state=%q state=%s", got.ForceState, got.State)
	}
}

func TestProcessTask_FinishClearsSignals(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	store := signal.NewSQLStore(db, repo.SQLite)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	svc := signal.NewService(signal.Config{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return testNow },
	})

	f := newFixture(t, svc)
	id := f.create(t, "two-step", "ready")

	if _, err := svc.Register(ctx, id, domain.SignalComplete); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestCleanup(ctx, id, "container", nil); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := f.w.ProcessTask(ctx, id, false); err != nil {
			t.Fatal(err)
		}
	}
	if !f.get(t, id).IsFinished() {
		t.Fatal("task not finished")
	}

	left, err := svc.List(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Type != domain.SignalCleanupRequest {
		t.Errorf("signals left = %+v, want only the cleanup request", left)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, "two-step", "ready")

	if err := f.w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.get(t, id).Steps == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	f.w.Stop()

	if f.get(t, id).Steps == 0 {
		t.Error("initial poll did not step the task")
	}
	if !f.w.IsStopped() {
		t.Error("worker not stopped")
	}
	if err := f.w.Start(context.Background()); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("restart: expected ErrWorkerStopped, got %v", err)
	}
}

func TestProcessTask_OneStepperPerProcess(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	sqlLocker := lock.NewSQLLocker(lock.SQLConfig{DB: db, Dialect: repo.SQLite})
	if err := sqlLocker.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		locker lock.Locker
	}{
		{"shared sql locker", sqlLocker},
		{"noop locker", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entered := make(chan struct{})
			release := make(chan struct{})
			var calls int
			def, err := engine.NewDefinition("slow",
				engine.MustCompile(`start{* -> finish}`),
				engine.WithAction("start", func(context.Context, *engine.StepContext) error {
					calls++
					close(entered)
					<-release
					return nil
				}),
			)
			if err != nil {
				t.Fatal(err)
			}
			reg := engine.NewRegistry()
			if err := reg.Register(def); err != nil {
				t.Fatal(err)
			}
			tasks := repo.NewMemoryTaskRepo()
			w := New(Config{
				Tasks:    tasks,
				Registry: reg,
				Locker:   tt.locker,
				Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
				Now:      func() time.Time { return testNow },
			})

			task := domain.NewTask("slow", "g", nil)
			task.NextRunAt = testNow
			task.Context = def.NewContext()
			if err := tasks.Create(context.Background(), task); err != nil {
				t.Fatal(err)
			}

			ctx := context.Background()
			first := make(chan error, 1)
			go func() {
				_, err := w.ProcessTask(ctx, task.ID, false)
				first <- err
			}()
			<-entered

			// signal.received будит тот же task, пока polling его шагает
			if _, err := w.ProcessTask(ctx, task.ID, true); !errors.Is(err, lock.ErrNotAcquired) {
				t.Errorf("second stepper: expected ErrNotAcquired, got %v", err)
			}
			close(release)
			if err := <-first; err != nil {
				t.Fatalf("first stepper: %v", err)
			}
			if calls != 1 {
				t.Errorf("action calls = %d, want 1", calls)
			}
			got, err := tasks.GetByID(ctx, task.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !got.IsFinished() || got.Steps != 1 {
				t.Errorf("status=%s steps=%d", got.Status, got.Steps)
			}
		})
	}
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/wip/internal/domain"
)

func TestMemoryTaskRepo_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTaskRepo()

	task := domain.NewTask("container", "ops", map[string]any{"image": "alpine"})
	task.Context.Put("run", "handle", "c-1")
	if err := r.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != 1 {
		t.Fatalf("id = %d, want 1", task.ID)
	}

	got, err := r.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != "container" || got.Context.For("run").String("handle") != "c-1" {
		t.Errorf("got = %+v", got)
	}

	// копия не связана с хранилищем
	got.State = "run"
	again, _ := r.GetByID(ctx, 1)
	if again.State != "start" {
		t.Errorf("state changed without Update: %s", again.State)
	}

	if err := r.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ = r.GetByID(ctx, 1)
	if again.State != "run" {
		t.Errorf("state = %s, want run", again.State)
	}

	if _, err := r.GetByID(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Update(ctx, &domain.Task{ID: 99}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := r.Delete(ctx, 1); err != nil {
		t.Errorf("delete: %v", err)
	}
	if err := r.Delete(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryTaskRepo_ListDue(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTaskRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	add := func(next time.Time, mutate func(*domain.Task)) int64 {
		task := domain.NewTask("t", "", nil)
		task.NextRunAt = next
		if mutate != nil {
			mutate(task)
		}
		if err := r.Create(ctx, task); err != nil {
			t.Fatal(err)
		}
		return task.ID
	}

	late := add(now.Add(-time.Minute), nil)
	early := add(now.Add(-time.Hour), nil)
	add(now.Add(time.Minute), nil)
	add(now.Add(-time.Hour), func(task *domain.Task) { task.Paused = true })
	add(now.Add(-time.Hour), func(task *domain.Task) { task.MarkFinished(now, 0, "") })

	due, err := r.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != early || due[1].ID != late {
		t.Fatalf("due = %v", ids(due))
	}

	due, _ = r.ListDue(ctx, now, 1)
	if len(due) != 1 || due[0].ID != early {
		t.Errorf("limited due = %v", ids(due))
	}
}

func TestMemoryTaskRepo_List(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTaskRepo()
	for _, g := range []string{"a", "b", "a"} {
		if err := r.Create(ctx, domain.NewTask("t", g, nil)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.List(ctx, TaskFilter{Group: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Errorf("list = %v", ids(got))
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE locks SET owner = ? WHERE key = ? AND expires_at <= ?"
	if got := Postgres.Rebind(q); got != "UPDATE locks SET owner = $1 WHERE key = $2 AND expires_at <= $3" {
		t.Errorf("postgres = %q", got)
	}
	if got := SQLite.Rebind(q); got != q {
		t.Errorf("sqlite = %q", got)
	}
}

func ids(tasks []*domain.Task) []int64 {
	out := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shaiso/wip/internal/domain"
)

// MemoryTaskRepo — TaskRepo в памяти. Для одного процесса и тестов.
//
// Tasks хранятся сериализованными: изменения возвращённой копии не видны,
// пока её не сохранят через Update, как и с Postgres.
type MemoryTaskRepo struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64][]byte
}

// NewMemoryTaskRepo создаёт пустой MemoryTaskRepo.
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{tasks: make(map[int64][]byte)}
}

// Create сохраняет новый task и заполняет task.ID.
func (r *MemoryTaskRepo) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	task.ID = r.nextID
	return r.put(task)
}

// GetByID возвращает копию task.
func (r *MemoryTaskRepo) GetByID(_ context.Context, id int64) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeTask(data)
}

// Update сохраняет task.
func (r *MemoryTaskRepo) Update(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	return r.put(task)
}

// Delete удаляет task.
func (r *MemoryTaskRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

// ListDue возвращает tasks, которые можно шагать в момент now.
func (r *MemoryTaskRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	all, err := r.all()
	if err != nil {
		return nil, err
	}
	var due []*domain.Task
	for _, t := range all {
		if t.IsDue(now) {
			due = append(due, t)
		}
	}
	slices.SortStableFunc(due, func(a, b *domain.Task) int {
		return a.NextRunAt.Compare(b.NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// List возвращает tasks по фильтру (новые первыми).
func (r *MemoryTaskRepo) List(_ context.Context, f TaskFilter) ([]*domain.Task, error) {
	all, err := r.all()
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	var out []*domain.Task
	for i := len(all) - 1; i >= 0 && len(out) < f.Limit; i-- {
		t := all[i]
		if (f.Group == "" || t.Group == f.Group) &&
			(f.Type == "" || t.Type == f.Type) &&
			(f.Status == "" || t.Status == f.Status) {
			out = append(out, t)
		}
	}
	return out, nil
}

// all возвращает копии всех tasks по возрастанию id.
func (r *MemoryTaskRepo) all() ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := decodeTask(r.tasks[id])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *MemoryTaskRepo) put(task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	r.tasks[task.ID] = data
	return nil
}

func decodeTask(data []byte) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/repo"
)

// ListTasks возвращает tasks по фильтру.
// GET /api/v1/tasks?group=...&type=...&status=...&limit=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.TaskFilter{
		Group:  q.Get("group"),
		Type:   q.Get("type"),
		Status: domain.TaskStatus(q.Get("status")),
		Limit:  50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}
	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}
	List(w, result, len(result))
}

// CreateTask создаёт task зарегистрированного типа.
// POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Type == "" {
		BadRequest(w, "type is required")
		return
	}

	def, err := h.registry.Get(req.Type)
	if HandleError(w, h.logger, err) {
		return
	}

	task := def.NewTask(req.Group, req.Inputs)
	now := h.now()
	task.NextRunAt, task.CreatedAt, task.ModifiedAt = now, now, now
	if err := h.tasks.Create(r.Context(), task); HandleError(w, h.logger, err) {
		return
	}

	h.logger.Info("task created", "task_id", task.ID, "type", task.Type, "group", task.Group)
	h.wake(r.Context(), task.ID)
	Created(w, TaskFromDomain(task))
}

// GetTask возвращает task.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, TaskFromDomain(task))
}

// ListTaskSignals возвращает сигналы task.
// GET /api/v1/tasks/{id}/signals
func (h *Handler) ListTaskSignals(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	sigs, err := h.signals.List(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	result := make([]SignalResponse, len(sigs))
	for i, s := range sigs {
		result[i] = SignalFromDomain(s)
	}
	List(w, result, len(result))
}

// PauseTask приостанавливает task.
// POST /api/v1/tasks/{id}/pause
func (h *Handler) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(task *domain.Task) error {
		task.Paused = true
		return nil
	})
}

// ResumeTask снимает паузу.
// POST /api/v1/tasks/{id}/resume
func (h *Handler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(task *domain.Task) error {
		task.Paused = false
		return nil
	})
}

// ForceTask задаёт принудительный переход; его выполнит следующий шаг.
// POST /api/v1/tasks/{id}/force
func (h *Handler) ForceTask(w http.ResponseWriter, r *http.Request) {
	var req ForceTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.State == "" {
		BadRequest(w, "state is required")
		return
	}
	h.control(w, r, func(task *domain.Task) error {
		def, err := h.registry.Get(task.Type)
		if err != nil {
			return err
		}
		if !def.Table().Has(req.State) {
			return fmt.Errorf("%w: state %q not in table %s", repo.ErrInvalidState, req.State, task.Type)
		}
		task.ForceState = req.State
		task.NextRunAt = h.now()
		return nil
	})
}

// control изменяет task под блокировкой update-<id>, чтобы не пересечься
// с шагом воркера. Завершённые tasks не меняются.
func (h *Handler) control(w http.ResponseWriter, r *http.Request, mutate func(*domain.Task) error) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	key := lock.Key(lock.PrefixUpdate, id)
	task, err := lock.RunAtomic(r.Context(), h.locker, key, h.lockTTL, func(ctx context.Context) (*domain.Task, error) {
		task, err := h.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.IsFinished() {
			return nil, fmt.Errorf("%w: task %d is finished", repo.ErrInvalidState, id)
		}
		if err := mutate(task); err != nil {
			return nil, err
		}
		task.ModifiedAt = h.now()
		return task, h.tasks.Update(ctx, task)
	})
	if HandleError(w, h.logger, err) {
		return
	}

	h.logger.Info("task updated by operator",
		"task_id", id,
		"path", r.URL.Path,
		"paused", task.Paused,
		"force_state", task.ForceState,
	)
	if !task.Paused {
		h.wake(r.Context(), id)
	}
	Success(w, TaskFromDomain(task))
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "invalid task id")
		return 0, false
	}
	return id, true
}

package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/repo"
	"github.com/shaiso/wip/internal/signal"
)

// TaskStore — хранилище tasks для API.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id int64) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task) error
	List(ctx context.Context, f repo.TaskFilter) ([]*domain.Task, error)
}

// Waker будит воркеры после изменения task.
type Waker interface {
	PublishTaskDue(ctx context.Context, taskID int64) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tasks    TaskStore
	registry *engine.Registry
	signals  *signal.Service
	locker   lock.Locker
	lockTTL  time.Duration
	waker    Waker
	logger   *slog.Logger
	now      func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tasks    TaskStore
	Registry *engine.Registry
	Signals  *signal.Service

	// Locker защищает операции оператора (pause/resume/force) от
	// одновременного шага воркера.
	Locker  lock.Locker
	LockTTL time.Duration

	// Waker — необязательно.
	Waker Waker

	Logger *slog.Logger
	Now    func() time.Time
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.Noop{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = lock.DefaultTTL
	}
	return &Handler{
		tasks:    cfg.Tasks,
		registry: cfg.Registry,
		signals:  cfg.Signals,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		waker:    cfg.Waker,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// wake публикует task.due; ошибка не фатальна — task подхватит polling.
func (h *Handler) wake(ctx context.Context, taskID int64) {
	if h.waker == nil {
		return
	}
	if err := h.waker.PublishTaskDue(ctx, taskID); err != nil {
		h.logger.Warn("failed to publish task.due", "task_id", taskID, "error", err)
	}
}

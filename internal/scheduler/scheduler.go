package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/signal"
	"github.com/shaiso/wip/internal/telemetry"
)

// LeaderKey — ключ блокировки лидера.
const LeaderKey = lock.PrefixExec + "scheduler"

// TaskLister — источник due tasks.
type TaskLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)
}

// Waker будит воркеры.
type Waker interface {
	PublishTaskDue(ctx context.Context, taskID int64) error
}

// CleanupFunc освобождает ресурс из запроса cleanup-request.
// Должна быть идемпотентной: повторный вызов после сбоя допустим.
type CleanupFunc func(ctx context.Context, sig *domain.Signal) error

// sweeper — Locker, умеющий удалять истёкшие блокировки.
type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Config — конфигурация Scheduler.
type Config struct {
	Tasks   TaskLister
	Signals *signal.Service
	Locker  lock.Locker

	// Waker — необязательно; без него публикация due tasks пропускается.
	Waker Waker

	// Cleanups — обработчики по Signal.Resource.
	Cleanups map[string]CleanupFunc

	BatchSize int           // default: 100
	LeaseTTL  time.Duration // default: lock.DefaultTTL

	// Retention — сколько хранить потреблённые сигналы. По умолчанию 7 дней.
	Retention time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Scheduler выполняет фоновые обязанности кластера. Работает только
// лидер: тот, кто держит блокировку exec-scheduler.
type Scheduler struct {
	tasks     TaskLister
	signals   *signal.Service
	locker    lock.Locker
	waker     Waker
	cleanups  map[string]CleanupFunc
	batchSize int
	leaseTTL  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	leader atomic.Bool
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = lock.DefaultTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.Noop{}
	}
	if cfg.Cleanups == nil {
		cfg.Cleanups = map[string]CleanupFunc{}
	}
	return &Scheduler{
		tasks:     cfg.Tasks,
		signals:   cfg.Signals,
		locker:    cfg.Locker,
		waker:     cfg.Waker,
		cleanups:  cfg.Cleanups,
		batchSize: cfg.BatchSize,
		leaseTTL:  cfg.LeaseTTL,
		retention: cfg.Retention,
		logger:    telemetry.WithComponent(cfg.Logger, "scheduler"),
		now:       cfg.Now,
	}
}

// Campaign продлевает блокировку лидера или пытается её захватить.
func (s *Scheduler) Campaign(ctx context.Context) (bool, error) {
	var ok bool
	var err error
	if s.leader.Load() {
		ok, err = s.locker.Extend(ctx, LeaderKey, s.leaseTTL)
	}
	if err == nil && !ok {
		ok, err = s.locker.Acquire(ctx, LeaderKey, s.leaseTTL)
	}
	if err != nil {
		s.leader.Store(false)
		return false, fmt.Errorf("campaign: %w", err)
	}
	if was := s.leader.Swap(ok); was != ok {
		s.logger.Info("leadership changed", "leader", ok)
	}
	return ok, nil
}

// IsLeader возвращает результат последней Campaign.
func (s *Scheduler) IsLeader() bool {
	return s.leader.Load()
}

// Resign снимает блокировку лидера.
func (s *Scheduler) Resign(ctx context.Context) {
	if !s.leader.Swap(false) {
		return
	}
	if _, err := s.locker.Release(ctx, LeaderKey); err != nil {
		s.logger.Warn("failed to release leader lock", "error", err)
	}
}

// Tick выполняет один тик: продлевает лидерство, будит воркеры для due
// tasks и обрабатывает запросы на освобождение ресурсов.
//
// Ошибки отдельных tasks и сигналов не прерывают тик.
func (s *Scheduler) Tick(ctx context.Context) error {
	ok, err := s.Campaign(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLeader
	}

	published, err := s.PublishDue(ctx)
	if err != nil {
		s.logger.Error("failed to publish due tasks", "error", err)
	}
	cleaned := s.RunCleanups(ctx)

	if published > 0 || cleaned > 0 {
		s.logger.Debug("tick completed", "published", published, "cleaned", cleaned)
	}
	return nil
}

// PublishDue публикует task.due для всех due tasks.
func (s *Scheduler) PublishDue(ctx context.Context) (int, error) {
	if s.waker == nil {
		return 0, nil
	}
	due, err := s.tasks.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	n := 0
	for _, t := range due {
		if err := s.waker.PublishTaskDue(ctx, t.ID); err != nil {
			return n, fmt.Errorf("publish task %d: %w", t.ID, err)
		}
		n++
	}
	return n, nil
}

// RunCleanups выполняет обработчики для необработанных запросов на
// освобождение. Каждый запрос обрабатывается под блокировкой exec-<id>,
// после успеха он помечается потреблённым. Возвращает число обработанных.
func (s *Scheduler) RunCleanups(ctx context.Context) int {
	if s.signals == nil {
		return 0
	}
	pending, err := s.signals.PendingCleanups(ctx)
	if err != nil {
		s.logger.Error("failed to list cleanups", "error", err)
		return 0
	}

	done := 0
	for _, sig := range pending {
		if ctx.Err() != nil {
			break
		}
		err := s.cleanup(ctx, sig)
		logger := telemetry.WithSignalID(telemetry.WithTaskID(s.logger, sig.TaskID), sig.ID)
		switch {
		case err == nil:
			done++
			telemetry.CleanupHandled(sig.Resource, "done")
			logger.Info("resource cleaned up", "resource", sig.Resource)
		case errors.Is(err, lock.ErrNotAcquired):
			telemetry.LockContended(lock.PrefixExec)
		case errors.Is(err, ErrNoCleanupHandler):
			telemetry.CleanupHandled(sig.Resource, "unhandled")
			logger.Warn("no cleanup handler", "resource", sig.Resource)
		default:
			telemetry.CleanupHandled(sig.Resource, "error")
			logger.Error("cleanup failed", "resource", sig.Resource, "error", err)
		}
	}
	return done
}

func (s *Scheduler) cleanup(ctx context.Context, sig *domain.Signal) error {
	fn, ok := s.cleanups[sig.Resource]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCleanupHandler, sig.Resource)
	}
	key := lock.PrefixExec + sig.ID.String()
	return lock.Do(ctx, s.locker, key, s.leaseTTL, func(ctx context.Context) error {
		if err := fn(ctx, sig); err != nil {
			return err
		}
		err := s.signals.CompleteCleanup(ctx, sig)
		if errors.Is(err, signal.ErrUnknownSignal) {
			// отменён или обработан, пока работал обработчик
			return nil
		}
		return err
	})
}

// Purge удаляет потреблённые сигналы старше Retention и истёкшие блокировки.
func (s *Scheduler) Purge(ctx context.Context) error {
	if s.signals != nil {
		n, err := s.signals.Purge(ctx, s.now().Add(-s.retention))
		if err != nil {
			return fmt.Errorf("purge signals: %w", err)
		}
		if n > 0 {
			s.logger.Info("signals purged", "count", n)
		}
	}
	if sw, ok := s.locker.(sweeper); ok {
		n, err := sw.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep locks: %w", err)
		}
		if n > 0 {
			s.logger.Info("expired locks swept", "count", n)
		}
	}
	return nil
}

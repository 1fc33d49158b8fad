package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/mq"
	"github.com/shaiso/wip/internal/signal"
	"github.com/shaiso/wip/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// TaskStore — хранилище tasks, нужное воркеру.
type TaskStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)
}

// Waker сообщает другим воркерам, что task можно шагать сразу.
type Waker interface {
	PublishTaskDue(ctx context.Context, taskID int64) error
}

// Config — конфигурация Worker.
type Config struct {
	Tasks    TaskStore
	Registry *engine.Registry
	Locker   lock.Locker

	// Signals — необязательно; нужен для очистки сигналов завершённых tasks.
	Signals *signal.Service

	// Executor — по умолчанию engine.NewExecutor с тем же Logger и Now.
	Executor *engine.Executor

	// Waker — необязательно; без него следующий шаг подхватит polling.
	Waker Waker

	// Conn — необязательно; без него воркер работает только на polling.
	Conn *mq.Connection

	PollInterval time.Duration // default: 5s
	BatchSize    int           // default: 50
	LockTTL      time.Duration // default: lock.DefaultTTL

	Logger *slog.Logger
	Now    func() time.Time
}

// Worker шагает tasks: по таймеру (polling) и по сообщениям из MQ.
//
// Workers stateless и масштабируются горизонтально: единственного
// владельца шага гарантирует блокировка update-<id>.
type Worker struct {
	tasks    TaskStore
	registry *engine.Registry
	locker   lock.Locker
	signals  *signal.Service
	executor *engine.Executor
	waker    Waker
	conn     *mq.Connection

	pollInterval time.Duration
	batchSize    int
	lockTTL      time.Duration

	logger *slog.Logger
	now    func() time.Time

	// stepping — ids tasks, которые шагает этот процесс (polling и оба
	// consumer'а). Защищает и при lock.Noop.
	stepping sync.Map

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stoppedMu  sync.RWMutex
	stopped    bool
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = lock.DefaultTTL
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
	if cfg.Executor == nil {
		cfg.Executor = engine.NewExecutor(engine.ExecutorConfig{Logger: cfg.Logger, Now: cfg.Now})
	}

	return &Worker{
		tasks:        cfg.Tasks,
		registry:     cfg.Registry,
		locker:       cfg.Locker,
		signals:      cfg.Signals,
		executor:     cfg.Executor,
		waker:        cfg.Waker,
		conn:         cfg.Conn,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		lockTTL:      cfg.LockTTL,
		logger:       telemetry.WithComponent(cfg.Logger, "worker"),
		now:          cfg.Now,
	}
}

// Start запускает consumers (если есть Conn) и polling.
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"lock_ttl", w.lockTTL,
		"types", w.registry.Types(),
	)

	if w.conn != nil {
		w.consume(ctx, mq.QueueTasksDue, w.handleTaskDue)
		w.consume(ctx, mq.QueueSignalsReceived, w.handleSignalReceived)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	return nil
}

func (w *Worker) consume(ctx context.Context, queue mq.Queue, h mq.Handler) {
	consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    queue,
		Handler:  h,
		Prefetch: defaultPrefetch,
	})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("consumer error", "queue", queue, "error", err)
		}
	}()
}

// Stop останавливает Worker и ждёт текущие шаги.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// первый проход сразу: подхватываем tasks, накопившиеся за простой
	w.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll шагает все due tasks одной пачкой. Возвращает число сделанных шагов.
// Tasks, занятые другим воркером, пропускаются.
func (w *Worker) Poll(ctx context.Context) int {
	due, err := w.tasks.ListDue(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("failed to list due tasks", "error", err)
		return 0
	}

	steps := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := w.ProcessTask(ctx, t.ID, false)
		switch {
		case err == nil:
			steps++
		case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, ErrTaskNotDue):
			w.logger.Debug("task skipped", "task_id", t.ID, "reason", err)
		default:
			w.logger.Error("failed to process task", "task_id", t.ID, "error", err)
		}
	}
	return steps
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/mq"
	"github.com/shaiso/wip/internal/repo"
	"github.com/shaiso/wip/internal/signal"
)

// Waker будит воркеры. Nil, если RabbitMQ недоступен.
type Waker interface {
	PublishTaskDue(ctx context.Context, taskID int64) error
}

// Deps — общие зависимости процессов wip.
type Deps struct {
	Pool    *pgxpool.Pool
	Tasks   *repo.TaskRepo
	Locker  lock.Locker
	Signals *signal.Service

	// Conn и Waker — nil в режиме только polling.
	Conn  *mq.Connection
	Waker Waker

	closers []func() error
}

// Open подключает Postgres, создаёт таблицы, выбирает бэкенд блокировок
// и подключает RabbitMQ. Недоступный RabbitMQ не ошибка: воркеры
// продолжают работать через polling.
func Open(ctx context.Context, s Settings, logger *slog.Logger) (*Deps, error) {
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	d := &Deps{Pool: pool, Tasks: repo.NewTaskRepo(pool)}
	d.closers = append(d.closers, func() error { pool.Close(); return nil })
	logger.Info("database connected")

	if err := repo.Migrate(ctx, pool); err != nil {
		d.Close()
		return nil, err
	}
	db := repo.SQLDB(pool)
	d.closers = append(d.closers, db.Close)

	if d.Locker, err = d.openLocker(ctx, s, db); err != nil {
		d.Close()
		return nil, err
	}
	logger.Info("lock backend ready", "backend", s.LockBackend)

	var notifier signal.Notifier
	conn, err := mq.NewConnection(mq.ConnectionConfig{URL: s.RabbitURL, Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		d.closers = append(d.closers, conn.Close)
		logger.Info("RabbitMQ connected")
		if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		pub := mq.NewPublisher(conn, logger)
		d.Conn, d.Waker, notifier = conn, pub, pub
	}

	d.Signals = signal.NewService(signal.Config{
		Store:    signal.NewSQLStore(db, repo.Postgres),
		BaseURL:  s.CallbackBaseURL,
		Notifier: notifier,
		Logger:   logger,
	})
	return d, nil
}

func (d *Deps) openLocker(ctx context.Context, s Settings, db *sql.DB) (lock.Locker, error) {
	switch s.LockBackend {
	case LockBackendRedis:
		opt, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: REDIS_URL: %v", ErrBadEnv, err)
		}
		client := redis.NewClient(opt)
		d.closers = append(d.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return lock.NewRedisLocker(lock.RedisConfig{Client: client}), nil
	case LockBackendSQL:
		return lock.NewSQLLocker(lock.SQLConfig{DB: db, Dialect: repo.Postgres}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLockBackend, s.LockBackend)
	}
}

// Close закрывает соединения в обратном порядке.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/wip/internal/repo"
)

// SQLConfig — конфигурация SQLLocker.
type SQLConfig struct {
	DB      *sql.DB
	Dialect repo.Dialect

	// Owner — токен владельца. По умолчанию генерируется.
	Owner string

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// SQLLocker хранит блокировки в таблице locks.
//
// Захват — один INSERT ... ON CONFLICT DO UPDATE с условием "lease истёк".
// Одна строка затронута — блокировка наша.
type SQLLocker struct {
	db      *sql.DB
	dialect repo.Dialect
	owner   string
	now     func() time.Time
}

var _ Locker = (*SQLLocker)(nil)

// NewSQLLocker создаёт SQLLocker.
func NewSQLLocker(cfg SQLConfig) *SQLLocker {
	if cfg.Owner == "" {
		cfg.Owner = NewOwner()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SQLLocker{
		db:      cfg.DB,
		dialect: cfg.Dialect,
		owner:   cfg.Owner,
		now:     cfg.Now,
	}
}

// EnsureSchema создаёт таблицу locks, если её нет.
func (l *SQLLocker) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS locks (
			key        TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			expires_at BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create locks table: %w", err)
	}
	return nil
}

// Owner возвращает токен владельца.
func (l *SQLLocker) Owner() string {
	return l.owner
}

// Acquire пытается взять блокировку.
func (l *SQLLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	now := l.now()
	res, err := l.db.ExecContext(ctx, l.dialect.Rebind(`
		INSERT INTO locks (key, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?`),
		key, l.owner, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return n == 1, nil
}

// Extend продлевает неистёкший lease этого владельца.
func (l *SQLLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	now := l.now()
	res, err := l.db.ExecContext(ctx, l.dialect.Rebind(`
		UPDATE locks SET expires_at = ?
		WHERE key = ? AND owner = ? AND expires_at > ?`),
		now.Add(ttl).UnixNano(), key, l.owner, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	return n == 1, nil
}

// Release снимает блокировку, если она наша.
func (l *SQLLocker) Release(ctx context.Context, key string) (bool, error) {
	res, err := l.db.ExecContext(ctx, l.dialect.Rebind(`
		DELETE FROM locks WHERE key = ? AND owner = ?`),
		key, l.owner,
	)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return n == 1, nil
}

// IsFree проверяет, что блокировку никто не держит.
func (l *SQLLocker) IsFree(ctx context.Context, key string) (bool, error) {
	owner, ok, err := l.holder(ctx, key)
	if err != nil {
		return false, err
	}
	return !ok || owner == "", nil
}

// IsMine проверяет, что блокировку держит этот владелец.
func (l *SQLLocker) IsMine(ctx context.Context, key string) (bool, error) {
	owner, ok, err := l.holder(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && owner == l.owner, nil
}

// holder возвращает текущего владельца с неистёкшим lease.
func (l *SQLLocker) holder(ctx context.Context, key string) (string, bool, error) {
	var owner string
	err := l.db.QueryRowContext(ctx, l.dialect.Rebind(`
		SELECT owner FROM locks WHERE key = ? AND expires_at > ?`),
		key, l.now().UnixNano(),
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read lock: %w", err)
	}
	return owner, true, nil
}

// Sweep удаляет блокировки с истёкшим lease.
func (l *SQLLocker) Sweep(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.dialect.Rebind(`
		DELETE FROM locks WHERE expires_at <= ?`),
		l.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep locks: %w", err)
	}
	return res.RowsAffected()
}

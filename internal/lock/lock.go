package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Префиксы ключей.
const (
	PrefixUpdate = "update-"
	PrefixExec   = "exec-"
)

// DefaultTTL — lease по умолчанию.
const DefaultTTL = 30 * time.Second

// Locker — распределённая блокировка.
type Locker interface {
	// Acquire пытается взять блокировку один раз. Блокировка не
	// реентерабельна: занятый ключ не берётся повторно даже тем же владельцем,
	// иначе две горутины одного процесса шагали бы одну строку.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Extend продлевает lease блокировки, которую держит этот владелец.
	// false — lease уже истёк или блокировка чужая.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release снимает блокировку, если она принадлежит владельцу.
	Release(ctx context.Context, key string) (bool, error)

	// IsFree — блокировку никто не держит (или lease истёк).
	IsFree(ctx context.Context, key string) (bool, error)

	// IsMine — блокировку держит этот владелец.
	IsMine(ctx context.Context, key string) (bool, error)

	// Owner — токен владельца этого Locker.
	Owner() string
}

// Key строит ключ блокировки строки.
func Key(prefix string, id int64) string {
	return prefix + strconv.FormatInt(id, 10)
}

// NewOwner генерирует токен владельца.
func NewOwner() string {
	return uuid.NewString()
}

// RunAtomic выполняет fn под блокировкой key.
//
// Если блокировка занята, возвращает ErrNotAcquired, не вызывая fn.
// Блокировка снимается после fn в любом случае; ошибка fn возвращается как есть.
func RunAtomic[T any](ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ok, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return zero, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	defer func() {
		// ctx может быть уже отменён: снимаем блокировку в любом случае
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = l.Release(releaseCtx, key)
	}()
	return fn(ctx)
}

// Do — RunAtomic для функций без результата.
func Do(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	_, err := RunAtomic(ctx, l, key, ttl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

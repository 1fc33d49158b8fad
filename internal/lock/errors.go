package lock

import "errors"

var (
	// ErrNotAcquired — блокировка занята другим владельцем.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrInvalidTTL — lease должен быть положительным.
	ErrInvalidTTL = errors.New("lock ttl must be positive")

	// ErrEmptyKey — пустой ключ блокировки.
	ErrEmptyKey = errors.New("empty lock key")
)

package app

import "errors"

var (
	// ErrBadEnv — переменная окружения задана неверно.
	ErrBadEnv = errors.New("invalid environment variable")

	// ErrUnknownLockBackend — LOCK_BACKEND не sql и не redis.
	ErrUnknownLockBackend = errors.New("unknown lock backend")
)

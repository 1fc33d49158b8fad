package lock

import (
	"context"
	"time"
)

// Noop — Locker, который всегда успешен. Для одного процесса и тестов.
type Noop struct{}

var _ Locker = Noop{}

func (Noop) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (Noop) Extend(context.Context, string, time.Duration) (bool, error)  { return true, nil }
func (Noop) Release(context.Context, string) (bool, error)                { return true, nil }
func (Noop) IsFree(context.Context, string) (bool, error)                 { return true, nil }
func (Noop) IsMine(context.Context, string) (bool, error)                 { return true, nil }
func (Noop) Owner() string                                                { return "noop" }

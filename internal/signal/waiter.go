package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/scope"
)

// Outcome — результат check.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeWait    Outcome = "wait"
)

// Ключи, которые Waiter пишет в scope состояния.
var (
	KeyCallbackID   = scope.NewKey[string]("callback_id")
	KeyHandle       = scope.NewKey[string]("handle")
	KeyDispatchedAt = scope.NewKey[time.Time]("dispatched_at")
	KeyResult       = scope.NewKey[map[string]any]("result")
)

// Launch запускает внешнюю операцию с данным callback и возвращает её handle.
type Launch func(ctx context.Context, cb Callback) (string, error)

// Probe опрашивает внешнюю систему по handle, когда сигнала нет дольше fail-safe.
type Probe func(ctx context.Context, handle string) (Outcome, map[string]any, error)

// WaiterConfig — конфигурация Waiter.
type WaiterConfig struct {
	Signals *Service

	// FailSafe — сколько ждать сигнал, прежде чем опрашивать систему.
	FailSafe time.Duration

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Waiter реализует пару dispatch/check.
type Waiter struct {
	signals  *Service
	failSafe time.Duration
	now      func() time.Time
}

// NewWaiter создаёт Waiter.
func NewWaiter(cfg WaiterConfig) *Waiter {
	if cfg.FailSafe <= 0 {
		cfg.FailSafe = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Waiter{signals: cfg.Signals, failSafe: cfg.FailSafe, now: cfg.Now}
}

// Dispatch регистрирует callback, запускает операцию и сохраняет в view
// handle, id callback и время запуска.
func (w *Waiter) Dispatch(ctx context.Context, view *scope.View, taskID int64, launch Launch) (Callback, error) {
	cb, err := w.signals.Register(ctx, taskID, domain.SignalComplete)
	if err != nil {
		return Callback{}, fmt.Errorf("register callback: %w", err)
	}
	handle, err := launch(ctx, cb)
	if err != nil {
		return cb, fmt.Errorf("launch: %w", err)
	}
	scope.Set(view, KeyCallbackID, cb.ID.String())
	scope.Set(view, KeyHandle, handle)
	scope.Set(view, KeyDispatchedAt, w.now())
	view.Delete(KeyResult.Name)
	return cb, nil
}

// Check проверяет, завершилась ли операция.
//
// Сначала потребляет сигнал; если его нет, а fail-safe срок истёк,
// опрашивает систему через probe. Иначе OutcomeWait.
func (w *Waiter) Check(ctx context.Context, view *scope.View, probe Probe) (Outcome, map[string]any, error) {
	raw, ok, err := scope.Get(view, KeyCallbackID)
	if err != nil || !ok {
		return "", nil, ErrNotDispatched
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad callback id %q", ErrNotDispatched, raw)
	}

	sig, err := w.signals.Resolve(ctx, id)
	switch {
	case err == nil:
		outcome := PayloadOutcome(sig.Payload)
		scope.Set(view, KeyResult, sig.Payload)
		return outcome, sig.Payload, nil
	case !errors.Is(err, ErrSignalPending):
		return "", nil, err
	}

	dispatched, ok := scope.GetTime(view, KeyDispatchedAt)
	if probe == nil || !ok || w.now().Sub(dispatched) < w.failSafe {
		return OutcomeWait, nil, nil
	}

	handle := scope.MustGet(view, KeyHandle)
	outcome, result, err := probe(ctx, handle)
	if err != nil {
		return "", nil, fmt.Errorf("probe %s: %w", handle, err)
	}
	if outcome != OutcomeWait {
		scope.Set(view, KeyResult, result)
	}
	return outcome, result, nil
}

// Result возвращает сохранённый результат операции.
func Result(view *scope.View) map[string]any {
	return scope.MustGet(view, KeyResult)
}

// PayloadOutcome определяет результат по payload сигнала:
// status "fail" или ненулевой exit_code означают неудачу.
func PayloadOutcome(payload map[string]any) Outcome {
	if s, ok := payload["status"].(string); ok && s == string(OutcomeFail) {
		return OutcomeFail
	}
	switch code := payload["exit_code"].(type) {
	case float64:
		if code != 0 {
			return OutcomeFail
		}
	case int:
		if code != 0 {
			return OutcomeFail
		}
	case int64:
		if code != 0 {
			return OutcomeFail
		}
	case string:
		if code != "" && code != "0" {
			return OutcomeFail
		}
	}
	return OutcomeSuccess
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/mq"
	"github.com/shaiso/wip/internal/repo"
	"github.com/shaiso/wip/internal/telemetry"
)

// handleTaskDue обрабатывает сообщение task.due.
func (w *Worker) handleTaskDue(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskDuePayload](&d.Message)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
	}
	return w.handle(ctx, payload.TaskID, false)
}

// handleSignalReceived будит task, для которого пришёл сигнал,
// не дожидаясь окончания wait.
func (w *Worker) handleSignalReceived(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.SignalReceivedPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
	}
	w.logger.Debug("signal received",
		"task_id", payload.TaskID,
		"signal_id", payload.SignalID,
		"signal_type", payload.Type,
	)
	return w.handle(ctx, payload.TaskID, true)
}

// handle шагает task из сообщения. Ожидаемые ситуации подтверждаются (ack).
func (w *Worker) handle(ctx context.Context, taskID int64, wake bool) error {
	_, err := w.ProcessTask(ctx, taskID, wake)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrTaskNotDue):
		w.logger.Debug("task not processed", "task_id", taskID, "reason", err)
		return nil
	case errors.Is(err, lock.ErrNotAcquired):
		// task шагает другой воркер; следующий шаг подхватит polling
		return nil
	default:
		return err
	}
}

// ProcessTask выполняет один шаг task под блокировкой update-<id>.
//
// wake=true шагает task, даже если его next_run_at ещё не наступил
// (пришёл сигнал). Приостановленные и завершённые tasks не шагаются.
func (w *Worker) ProcessTask(ctx context.Context, taskID int64, wake bool) (*engine.StepResult, error) {
	key := lock.Key(lock.PrefixUpdate, taskID)
	if _, busy := w.stepping.LoadOrStore(taskID, struct{}{}); busy {
		telemetry.LockContended(lock.PrefixUpdate)
		return nil, fmt.Errorf("%w: %s", lock.ErrNotAcquired, key)
	}
	defer w.stepping.Delete(taskID)

	res, err := lock.RunAtomic(ctx, w.locker, key, w.lockTTL, func(ctx context.Context) (*engine.StepResult, error) {
		return w.step(ctx, key, taskID, wake)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		telemetry.LockContended(lock.PrefixUpdate)
	}
	if err != nil {
		return nil, err
	}

	// следующий шаг без задержки: будим любой свободный воркер
	if !res.Finished && res.Wait == 0 && w.waker != nil {
		if err := w.waker.PublishTaskDue(ctx, taskID); err != nil {
			w.logger.Warn("failed to publish task.due", "task_id", taskID, "error", err)
		}
	}
	return res, nil
}

func (w *Worker) step(ctx context.Context, key string, taskID int64, wake bool) (*engine.StepResult, error) {
	logger := telemetry.WithTaskID(w.logger, taskID)

	task, err := w.tasks.GetByID(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	now := w.now()
	if task.IsFinished() || task.Paused || (!wake && !task.IsDue(now)) {
		return nil, ErrTaskNotDue
	}

	def, err := w.registry.Get(task.Type)
	if err != nil {
		// таблицы нет ни в одном воркере: task не может продвинуться
		task.Failed = true
		task.ModifiedAt = now
		task.MarkFinished(now, 1, err.Error())
		logger.Error("task type not registered", "type", task.Type)
		return nil, errors.Join(err, w.save(ctx, key, task))
	}

	from := task.State
	res, err := w.executor.Step(ctx, def, task)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownState) {
			// некорректный ForceState уже сброшен в task
			return nil, errors.Join(err, w.save(ctx, key, task))
		}
		return nil, err
	}

	if res.Finished && w.signals != nil {
		if n, err := w.signals.ClearTask(ctx, task.ID); err != nil {
			logger.Warn("failed to clear signals", "error", err)
		} else if n > 0 {
			logger.Debug("signals cleared", "count", n)
		}
	}

	if err := w.save(ctx, key, task); err != nil {
		return nil, err
	}

	telemetry.ObserveStep(task.Type, from, res.Outcome(), res.Duration)
	attrs := []any{
		"type", task.Type,
		"from", res.From,
		"to", res.To,
		"pattern", res.Pattern,
		"outcome", res.Outcome(),
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	if res.Finished {
		logger.Info("task finished", append(attrs, "exit_code", task.ExitCode, "exit_message", task.ExitMessage)...)
	} else {
		logger.Debug("task stepped", append(attrs, "wait", res.Wait)...)
	}
	return res, nil
}

// save сохраняет task, только если блокировка всё ещё наша.
func (w *Worker) save(ctx context.Context, key string, task *domain.Task) error {
	mine, err := w.locker.IsMine(ctx, key)
	if err != nil {
		return fmt.Errorf("check lock: %w", err)
	}
	if !mine {
		return fmt.Errorf("%w: %s", ErrLockLost, key)
	}
	if err := w.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskNotFound — task не найден в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotDue — task завершён, на паузе или его время ещё не пришло.
	ErrTaskNotDue = errors.New("task is not due")

	// ErrLockLost — блокировка истекла во время шага; результат не сохранён.
	ErrLockLost = errors.New("task lock lost during step")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)

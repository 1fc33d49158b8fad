package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrNotLeader — блокировку лидера держит другой экземпляр.
	ErrNotLeader = errors.New("scheduler is not the leader")

	// ErrNoCleanupHandler — для ресурса не зарегистрирован обработчик.
	ErrNoCleanupHandler = errors.New("no cleanup handler for resource")
)

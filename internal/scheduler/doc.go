// Package scheduler выполняет фоновые обязанности кластера.
//
// Структура:
//   - scheduler.go — лидерство, публикация due tasks, cleanup, purge
//   - cron.go      — цикл Run и расписание purge (cron-выражения)
//
// Лидерство: в кластере может работать несколько экземпляров, но работу
// выполняет только держатель блокировки exec-scheduler. Лидер продлевает
// lease каждым Tick; упавший лидер теряет её по истечении lease.
//
// Каждый Tick лидера:
//  1. публикует task.due для tasks, чьё время пришло (воркеры шагают их
//     и без этого, по опросу; сообщение лишь ускоряет шаг)
//  2. для каждого необработанного cleanup-request вызывает обработчик
//     ресурса под блокировкой exec-<signal id> и помечает запрос
//     потреблённым
//
// По расписанию PurgeCron лидер удаляет старые потреблённые сигналы и
// истёкшие блокировки.
//
// Использование:
//
//	s := scheduler.New(scheduler.Config{
//	    Tasks:    taskRepo,
//	    Signals:  signals,
//	    Locker:   locker,
//	    Waker:    publisher,
//	    Cleanups: map[string]scheduler.CleanupFunc{"container": removeContainer},
//	    Logger:   logger,
//	})
//	err := s.Run(ctx, scheduler.RunConfig{PurgeCron: "*/15 * * * *"})
package scheduler

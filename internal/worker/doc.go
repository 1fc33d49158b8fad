// Package worker шагает tasks.
//
// # Обзор
//
// Worker — stateless процесс. Он не держит task в памяти между шагами:
// каждый шаг — это отдельная короткая транзакция
//
//	acquire update-<id> → load → engine.Executor.Step → save → release
//
// Долгие операции (контейнеры, SSH-команды) не блокируют воркер: действие
// запускает операцию и возвращается, а следующий шаг случится по wait,
// по сигналу или по следующему опросу.
//
// # Источники шагов
//
//   - polling: ListDue раз в PollInterval (источник истины — БД)
//   - tasks.due: шаг без задержки, опубликованный после предыдущего шага
//   - signals.received: пришёл сигнал; task шагает, не дожидаясь wait
//
// Несколько воркеров могут получить один и тот же task: шагнёт только
// владелец блокировки, остальные пропустят его без ошибки.
//
// # Потеря блокировки
//
// Перед сохранением воркер проверяет, что блокировка всё ещё его (IsMine).
// Если lease истёк, результат шага отбрасывается с ErrLockLost: task
// мог уже шагнуть другой воркер.
//
// # Пример
//
//	w := worker.New(worker.Config{
//	    Tasks:    repo.NewTaskRepo(pool),
//	    Registry: registry,
//	    Locker:   locker,
//	    Signals:  signals,
//	    Waker:    publisher,
//	    Conn:     conn,
//	    Logger:   logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
package worker

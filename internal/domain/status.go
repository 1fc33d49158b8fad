package domain

// TaskStatus — статус task.
//
// Жизненный цикл:
//
//	ACTIVE → FINISHED
//
// Успех или неудача определяется ExitCode, а не статусом:
// завершённые tasks хранятся для аудита.
type TaskStatus string

const (
	// TaskStatusActive — task ещё шагает по FSM.
	TaskStatusActive TaskStatus = "ACTIVE"

	// TaskStatusFinished — task достиг состояния finish.
	TaskStatusFinished TaskStatus = "FINISHED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusFinished
}

// SignalType — тип входящего сигнала.
type SignalType string

const (
	// SignalComplete — внешняя операция завершилась.
	SignalComplete SignalType = "complete"

	// SignalCleanupRequest — ресурс нужно освободить, даже если
	// основной сигнал завершения потеряется.
	SignalCleanupRequest SignalType = "cleanup-request"

	// SignalCleanupCancel — отмена ранее запрошенного освобождения.
	SignalCleanupCancel SignalType = "cleanup-cancel"

	// SignalData — произвольные данные для task.
	SignalData SignalType = "data"
)

// IsValid проверяет, что тип сигнала известен.
func (t SignalType) IsValid() bool {
	switch t {
	case SignalComplete, SignalCleanupRequest, SignalCleanupCancel, SignalData:
		return true
	default:
		return false
	}
}

// SignalStatus — статус сигнала.
//
// Жизненный цикл:
//
//	REGISTERED → RECEIVED → CONSUMED
//
// Сигналы, созданные без регистрации (cleanup-request), начинают с RECEIVED.
type SignalStatus string

const (
	// SignalStatusRegistered — callback зарегистрирован, сигнал ещё не пришёл.
	SignalStatusRegistered SignalStatus = "REGISTERED"

	// SignalStatusReceived — сигнал пришёл и ждёт потребления.
	SignalStatusReceived SignalStatus = "RECEIVED"

	// SignalStatusConsumed — сигнал потреблён (ровно один раз).
	SignalStatusConsumed SignalStatus = "CONSUMED"
)

package signal

import "errors"

var (
	// ErrInvalidTaskID — id task не положительный.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrInvalidType — неизвестный тип сигнала.
	ErrInvalidType = errors.New("invalid signal type")

	// ErrUnknownSignal — сигнал не зарегистрирован или уже потреблён.
	ErrUnknownSignal = errors.New("unknown or consumed signal")

	// ErrAlreadyReceived — сигнал уже получен (повторный post).
	ErrAlreadyReceived = errors.New("signal already received")

	// ErrSignalPending — callback зарегистрирован, сигнал ещё не пришёл.
	ErrSignalPending = errors.New("signal pending")

	// ErrNoSignal — нет полученных сигналов нужного типа.
	ErrNoSignal = errors.New("no signal")

	// ErrNotDispatched — check без предшествующего dispatch.
	ErrNotDispatched = errors.New("operation not dispatched")
)

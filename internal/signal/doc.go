// Package signal реализует входящие сигналы, скоррелированные с tasks.
//
// Сигнал проходит REGISTERED → RECEIVED → CONSUMED и потребляется ровно
// один раз. Service регистрирует callback (uuid + URL), принимает post,
// отдаёт сигнал шагу check. Cleanup-request создаётся сразу полученным и
// переживает завершение task: его обрабатывает scheduler.
//
// Waiter — шаблон dispatch/check для асинхронных внешних операций:
// dispatch регистрирует callback и запускает операцию, check ждёт сигнал
// и после fail-safe срока сам опрашивает внешнюю систему.
package signal

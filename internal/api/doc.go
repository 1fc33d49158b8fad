// Package api содержит HTTP API.
//
// Структура:
//   - handler.go        — Handler с зависимостями
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — X-Request-ID, access log, recovery
//   - response.go       — JSON-ответы и преобразование ошибок
//   - dto.go            — request/response
//   - task_handler.go   — /tasks: создание, просмотр, pause/resume/force
//   - signal_handler.go — /signals/{id}: callbacks внешних систем
//
// Операции оператора выполняются под той же блокировкой update-<id>,
// что и шаг воркера. Если task сейчас шагает, API отвечает 409.
package api

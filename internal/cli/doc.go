// Package cli реализует инструмент командной строки wip.
//
// # Обзор
//
// CLI работает с wip API по HTTP и не импортирует серверные пакеты.
// Исключение — команда table: она компилирует таблицу состояний
// локально через engine и не обращается к API.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разбирает DataResponse/ListResponse и превращает
// ErrorResponse в *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	task, err := client.CreateTask(cli.CreateTaskRequest{Type: "container"})
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные идут в stdout, сообщения — в stderr:
//
//	wip task list --json | jq .
//
// ## Commands
//
//   - task: list, submit, show, signals, pause, resume, force, types
//   - signal: post
//   - table: check
package cli

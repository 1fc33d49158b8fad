// Package remote содержит контракты внешних систем, с которыми работают
// tasks, и их реализации.
//
//   - Executor — удалённые команды: ExecSync ждёт завершения,
//     ExecAsync запускает команду в фоне и возвращает handle (pid).
//     Реализации: SSHExecutor (golang.org/x/crypto/ssh), LocalExecutor.
//   - Runtime — контейнеры: Launch/Status/Kill/Result.
//     Реализация: DockerRuntime поверх любого Executor (docker CLI).
//
// Пакет ничего не знает о FSM: tasks вызывают его из actions и evaluators.
package remote

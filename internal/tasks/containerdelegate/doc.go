// Package containerdelegate — тип task "container": запуск контейнера,
// ожидание callback (или опрос runtime после fail-safe), сбор результата
// и удаление контейнера.
//
// Таблица состояний:
//
//	start → run (launch + status) → collect → finish
//	                 │ wait: повтор status без повторного launch
//	                 └ ! → kill → failure → finish
//
// При запуске регистрируется запрос cleanup для ресурса "container": если
// task не дойдёт до удаления контейнера, его удалит scheduler через Cleanup.
package containerdelegate

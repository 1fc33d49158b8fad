// Package engine содержит компилятор таблиц состояний и executor FSM.
//
// Включает:
//   - lexer.go, parser.go — разбор DSL таблиц (Compile)
//   - table.go, validate.go — Table/State/Rule и проверки конфигурации
//   - definition.go — Definition (таблица + actions + evaluators) и Registry
//   - executor.go — Executor.Step: ровно один шаг за вызов
//
// Пример таблицы:
//
//	start {
//	  * run
//	}
//	run:status {
//	  success collect
//	  wait    run wait=5 exec=false max=120
//	  !       failure
//	}
//	failure {
//	  * finish
//	}
//
// Executor не хранит состояние: всё, что нужно следующему шагу,
// записывается в domain.Task, который сохраняет вызывающий.
package engine

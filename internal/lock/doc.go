// Package lock реализует распределённые блокировки по строкам данных.
//
// Ключ блокировки — префикс плюс id строки (Key). Используются два префикса:
//   - update- — изменение строки (шаг task, операции оператора)
//   - exec-   — однократное выполнение (лидер scheduler, обработка cleanup)
//
// Реализации Locker:
//   - SQLLocker   — таблица locks в Postgres или SQLite
//   - RedisLocker — ключи Redis с Lua compare-and-set
//   - Noop        — всегда успешно (один процесс, тесты)
//
// Acquire — одна неблокирующая попытка, не реентерабельная даже для того же
// владельца; lease продлевает Extend. Блокировка имеет lease (TTL):
// владелец, упавший посреди шага, не держит строку вечно.
package lock

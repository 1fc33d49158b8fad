// Package sshcheck — тип task "ssh": проверка доступности хоста по SSH и
// асинхронный запуск команды, которая по завершении сама сообщает код
// через callback (curl).
//
// Пароль из inputs при первом шаге переносится в контекст зашифрованным
// (secret.Box) и удаляется из inputs. Ключ Box живёт в памяти процесса:
// task, продолженный другим процессом, завершается ошибкой расшифровки,
// и пароль нужно передать заново. Без пароля в inputs используются
// учётные данные воркера.
package sshcheck

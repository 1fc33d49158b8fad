package remote

import "errors"

// Ошибки пакета.
var (
	// ErrEmptyCommand — пустая команда.
	ErrEmptyCommand = errors.New("empty command")

	// ErrNoAuth — не задан ни пароль, ни ключ SSH.
	ErrNoAuth = errors.New("ssh: no auth method configured")

	// ErrNoHostKey — не задана проверка ключа хоста.
	ErrNoHostKey = errors.New("ssh: no host key callback configured")

	// ErrBadHandle — handle не распознан.
	ErrBadHandle = errors.New("malformed handle")

	// ErrUnknownHandle — runtime не знает такой handle.
	ErrUnknownHandle = errors.New("unknown handle")
)

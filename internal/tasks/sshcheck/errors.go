package sshcheck

import "errors"

var (
	// ErrNoHost — в inputs нет host.
	ErrNoHost = errors.New("input host is required")

	// ErrNoCommand — в inputs нет command.
	ErrNoCommand = errors.New("input command is required")
)

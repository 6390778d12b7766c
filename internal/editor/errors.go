package editor

import "errors"

var (
	ErrSessionNotFound = errors.New("editor session not found")
	ErrSessionClosed   = errors.New("editor session closed")
	ErrInvalidPosition = errors.New("invalid insert position")
)

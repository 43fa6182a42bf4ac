package core

import "errors"

var (
	// ErrSessionNotFound is returned by SessionStore.Get for unknown session keys.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned by SessionStore.Create when the key is already taken.
	ErrSessionExists = errors.New("session already exists")
)

package scorestore

import "errors"

var (
	// ErrNotFound is returned when no score is stored under a key.
	ErrNotFound = errors.New("score not found")
	// ErrInvalidKey is returned for ids that cannot be encoded into a key.
	ErrInvalidKey = errors.New("invalid score key")
)

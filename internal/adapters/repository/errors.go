package repository

import (
	"errors"

	"github.com/okian/expertrank/internal/domain/model"
)

// Sentinel kinds for repository errors.
var (
	// ErrNotFound is model.ErrNotFound so domain readers can match it
	// without importing this package.
	ErrNotFound      = model.ErrNotFound
	ErrInvalidID     = errors.New("invalid entity id")
	ErrUnknownDriver = errors.New("unknown store driver")
)

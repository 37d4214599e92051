package service

import (
	"errors"

	"github.com/okian/expertrank/internal/adapters/ranking"
)

var (
	// ErrNotStarted is returned by operations that need a running service.
	ErrNotStarted = errors.New("service not started")
	// ErrInvalidKind marks a request for an entity kind that has no scores.
	ErrInvalidKind = errors.New("invalid entity kind")

	// ErrInvalidLimit rejects a non-positive result limit.
	ErrInvalidLimit = ranking.ErrInvalidLimit

	errTriggerRejected = errors.New("recompute trigger rejected")
)

package ranking

import "errors"

// Sentinel kinds for ranking errors.
var (
	ErrNotFound     = errors.New("entity not ranked")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrInvalidKind  = errors.New("kind is not ranked")
)

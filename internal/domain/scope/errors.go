package scope

import "errors"

var (
	// ErrScopeResolution marks a referenced entity that could not be read
	// while resolving a scope. The rest of the scope is still produced.
	ErrScopeResolution = errors.New("scope resolution failed")
	// ErrUnknownEvent is returned for events with an unknown kind or action.
	ErrUnknownEvent = errors.New("unknown mutation event")
)

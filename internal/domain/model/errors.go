package model

import "errors"

// ErrNotFound is returned by document readers when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

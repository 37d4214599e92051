package skills

import "errors"

// ErrExtraction marks a profile that could not be normalized. Extract never
// returns it; callers that parse raw documents may wrap it before falling
// back to the empty set.
var ErrExtraction = errors.New("skill extraction failed")

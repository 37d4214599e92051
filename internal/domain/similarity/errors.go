package similarity

import "errors"

// ErrUnknownMetric is returned by New for an unregistered metric name.
var ErrUnknownMetric = errors.New("unknown similarity metric")

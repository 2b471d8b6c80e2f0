package engine

import "errors"

var (
	ErrNotAvailable = errors.New("container engine not available")
	ErrPullFailed   = errors.New("image pull failed")
	ErrPushFailed   = errors.New("image push failed")
)

package images

import "errors"

var (
	ErrNotFound      = errors.New("image not found")
	ErrInvalidRef    = errors.New("invalid image reference")
	ErrResolveFailed = errors.New("image reference could not be resolved")
)

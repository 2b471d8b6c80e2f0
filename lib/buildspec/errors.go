package buildspec

import (
	"errors"
	"fmt"
)

var (
	ErrMissingBaseImage = errors.New("build_docker_image.base_image is required")
	ErrInvalidBaseImage = errors.New("base image is not a valid reference")
	ErrBlankCommand     = errors.New("command must not be blank")
)

// ParseError reports a provisioning document that could not be read,
// decoded, or validated. It wraps the underlying cause and produces no
// partial result.
type ParseError struct {
	Path string // source file, empty when parsing from memory
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parse provisioning document: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

package builds

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a build does not exist.
	ErrNotFound = errors.New("build not found")

	// ErrAlreadyCompleted is returned when cancelling a build that
	// already reached a terminal status.
	ErrAlreadyCompleted = errors.New("build already completed")

	// ErrDiskSpaceLow is returned by the create preflight when the
	// data directory filesystem is below the configured free-space
	// threshold.
	ErrDiskSpaceLow = errors.New("insufficient disk space")

	// ErrBuildTimeout is returned when a build exceeds its timeout.
	ErrBuildTimeout = errors.New("build timed out")
)

// CommandError reports the first command of a build that exited
// non-zero. Commands after it never ran.
type CommandError struct {
	Ordinal  int // 1-based position in the command list
	Command  string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d (%q) exited with code %d", e.Ordinal, e.Command, e.ExitCode)
}

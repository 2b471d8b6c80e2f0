// Package builds runs provisioning documents against a container
// engine: materialize the base image, execute each command in document
// order inside one workspace container, and commit the result as a new
// image. A build is asynchronous; its state lives in a per-build
// metadata file and a log file under the data directory.
package builds

import (
	"time"

	"github.com/kilnworks/kiln/lib/buildspec"
)

// Build status constants. A build moves forward through the
// non-terminal statuses and ends in exactly one terminal status.
const (
	StatusPending    = "pending"
	StatusResolving  = "resolving"
	StatusPulling    = "pulling"
	StatusRunning    = "running"
	StatusCommitting = "committing"
	StatusPushing    = "pushing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Build is the public record of a build job.
type Build struct {
	ID         string
	Status     string
	BaseImage  string   // normalized base reference the build starts from
	BaseDigest string   // resolved base manifest digest, empty until resolved
	Commands   []string // effective command list, in document order
	Tag        string   // reference the committed image is tagged with
	PushRef    string   // registry reference the image is pushed to, empty if not pushed

	ImageID    *string // committed image record, set on success
	Error      *string
	FailedStep *StepResult  // set when a command exited non-zero
	Steps      []StepResult // commands that ran, in order

	CurrentStep   int // 1-based ordinal of the running command, 0 outside "running"
	TotalSteps    int
	QueuePosition *int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMS  *int64
}

// Terminal reports whether the build has reached a final status.
func (b *Build) Terminal() bool {
	return isTerminalStatus(b.Status)
}

// CreateBuildRequest holds the parameters for a new build.
type CreateBuildRequest struct {
	// Spec is the validated provisioning document to execute.
	Spec *buildspec.Spec

	// Tag is the reference for the committed image. Defaults to
	// kiln/<build-id> when empty.
	Tag string

	// Push uploads the committed image to the configured push
	// registry after a successful build.
	Push bool
}

// StepResult records one executed command.
type StepResult struct {
	Ordinal    int    `json:"ordinal"` // 1-based position in the command list
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// isTerminalStatus returns true if the status represents a completed build
func isTerminalStatus(status string) bool {
	switch status {
	case StatusReady, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

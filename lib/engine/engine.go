// Package engine abstracts the container runtime the build executor
// drives. Both implementations shell out to the engine CLI (docker or
// podman), which keeps the daemon free of daemon-socket clients and
// works against rootless setups unchanged.
package engine

import (
	"context"
	"io"
)

// Engine is the container runtime used to materialize base images and
// run build commands.
type Engine interface {
	// Name returns the engine name (docker or podman).
	Name() string

	// Available reports whether the engine CLI is installed and can
	// reach its runtime.
	Available(ctx context.Context) bool

	// Pull fetches an image, streaming progress output to output.
	Pull(ctx context.Context, image string, output io.Writer) error

	// ImageExists reports whether an image is present locally.
	ImageExists(ctx context.Context, image string) (bool, error)

	// CreateWorkspace starts a long-lived container from the base
	// image and returns its ID. Build commands execute inside it so
	// filesystem state accumulates across commands.
	CreateWorkspace(ctx context.Context, opts WorkspaceOptions) (string, error)

	// Exec runs a single command inside the workspace as its own
	// /bin/sh -c invocation, streaming combined output. The returned
	// exit code is the command's own; a non-nil error means the
	// engine itself failed, not the command.
	Exec(ctx context.Context, containerID string, command string, output io.Writer) (int, error)

	// Commit snapshots the workspace filesystem as a tagged image.
	Commit(ctx context.Context, containerID string, opts CommitOptions) error

	// Tag adds a tag to an existing image.
	Tag(ctx context.Context, source, target string) error

	// Push uploads an image to its registry, streaming progress
	// output to output.
	Push(ctx context.Context, image string, output io.Writer) error

	// Remove force-removes a container.
	Remove(ctx context.Context, containerID string) error

	// RemoveImage removes a local image.
	RemoveImage(ctx context.Context, image string, force bool) error

	// ImageSize returns the size of a local image in bytes.
	ImageSize(ctx context.Context, image string) (int64, error)
}

// WorkspaceOptions configures the build workspace container.
type WorkspaceOptions struct {
	// Image is the base image the workspace starts from.
	Image string

	// Name is the container name, derived from the build ID.
	Name string

	// ContextDir, when set, is bind-mounted read-only at /ctx so
	// build commands can reference uploaded files.
	ContextDir string
}

// CommitOptions configures how a workspace is committed to an image.
type CommitOptions struct {
	// Tag is the reference the committed image is tagged with.
	Tag string

	// BaseName and BaseDigest record the base image on the committed
	// image via OCI base-image labels.
	BaseName   string
	BaseDigest string
}

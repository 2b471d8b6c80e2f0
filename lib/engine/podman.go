package engine

import (
	"context"
	"os/exec"
)

// PodmanEngine drives builds through the podman CLI.
type PodmanEngine struct {
	*cliEngine
}

// NewPodmanEngine creates a podman-backed engine. Commits force the
// docker image format because podman's default OCI format drops LABEL
// changes applied via --change.
func NewPodmanEngine(opts ...Option) *PodmanEngine {
	path, _ := exec.LookPath("podman")

	e := &cliEngine{
		name:        "podman",
		binaryPath:  path,
		execCommand: exec.CommandContext,
		versionArgs: []string{"version", "--format", "{{.Version}}"},
		commitArgs:  []string{"--format", "docker"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return &PodmanEngine{cliEngine: e}
}

// ImageExists uses podman's dedicated existence check instead of
// inspect.
func (e *PodmanEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	err := e.command(ctx, "image", "exists", image).Run()
	return err == nil, nil
}

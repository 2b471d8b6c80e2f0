package engine

import "os/exec"

// DockerEngine drives builds through the docker CLI.
type DockerEngine struct {
	*cliEngine
}

// NewDockerEngine creates a docker-backed engine. The binary is
// resolved from PATH; Available reports false when it is missing.
func NewDockerEngine(opts ...Option) *DockerEngine {
	path, _ := exec.LookPath("docker")

	e := &cliEngine{
		name:        "docker",
		binaryPath:  path,
		execCommand: exec.CommandContext,
		versionArgs: []string{"version", "--format", "{{.Server.Version}}"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return &DockerEngine{cliEngine: e}
}

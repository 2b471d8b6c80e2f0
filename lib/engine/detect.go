package engine

import (
	"context"
	"fmt"
)

// Detect returns the preferred engine when it is available, falling
// back to the other CLI engine. An empty preference tries docker
// first.
func Detect(ctx context.Context, preferred string, opts ...Option) (Engine, error) {
	var candidates []Engine
	switch preferred {
	case "podman":
		candidates = []Engine{NewPodmanEngine(opts...), NewDockerEngine(opts...)}
	case "docker", "":
		candidates = []Engine{NewDockerEngine(opts...), NewPodmanEngine(opts...)}
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrNotAvailable, preferred)
	}

	for _, candidate := range candidates {
		if candidate.Available(ctx) {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("%w: tried docker and podman", ErrNotAvailable)
}

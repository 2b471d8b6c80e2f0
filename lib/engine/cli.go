package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ExecCommandFunc creates the exec.Cmd for an engine invocation. Tests
// inject a fake to run the engine without a container runtime.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// Option configures a CLI engine.
type Option func(*cliEngine)

// WithExecCommand replaces the command constructor.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(e *cliEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the resolved engine binary path.
func WithBinaryPath(path string) Option {
	return func(e *cliEngine) {
		e.binaryPath = path
	}
}

// The workspace container needs a process that stays up between
// command invocations. A shell loop is the only thing guaranteed to
// exist, since command execution already requires /bin/sh.
const holdCommand = "while true; do sleep 3600; done"

// cliEngine implements the engine operations shared by docker and
// podman. Engine-specific flags live in the fields set by the concrete
// constructors.
type cliEngine struct {
	name        string
	binaryPath  string
	execCommand ExecCommandFunc
	versionArgs []string // args that probe the runtime for Available
	commitArgs  []string // extra flags injected into commit
}

func (e *cliEngine) Name() string {
	return e.name
}

func (e *cliEngine) Available(ctx context.Context) bool {
	if e.binaryPath == "" {
		return false
	}
	return e.command(ctx, e.versionArgs...).Run() == nil
}

func (e *cliEngine) Pull(ctx context.Context, image string, output io.Writer) error {
	cmd := e.command(ctx, "pull", image)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPullFailed, image, err)
	}
	return nil
}

func (e *cliEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	err := e.command(ctx, "image", "inspect", image).Run()
	return err == nil, nil
}

func (e *cliEngine) CreateWorkspace(ctx context.Context, opts WorkspaceOptions) (string, error) {
	args := []string{"run", "-d", "--name", opts.Name}
	if opts.ContextDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/ctx:ro", opts.ContextDir))
	}
	args = append(args, opts.Image, "/bin/sh", "-c", holdCommand)

	out, err := e.output(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("create workspace container: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (e *cliEngine) Exec(ctx context.Context, containerID string, command string, output io.Writer) (int, error) {
	cmd := e.command(ctx, "exec", containerID, "/bin/sh", "-c", command)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("%s exec: %w", e.name, err)
	}
	return 0, nil
}

func (e *cliEngine) Commit(ctx context.Context, containerID string, opts CommitOptions) error {
	args := []string{"commit"}
	args = append(args, e.commitArgs...)
	if opts.BaseName != "" {
		args = append(args, "--change", fmt.Sprintf("LABEL %s=%s", ocispec.AnnotationBaseImageName, opts.BaseName))
	}
	if opts.BaseDigest != "" {
		args = append(args, "--change", fmt.Sprintf("LABEL %s=%s", ocispec.AnnotationBaseImageDigest, opts.BaseDigest))
	}
	args = append(args, containerID, opts.Tag)

	if err := e.run(ctx, args...); err != nil {
		return fmt.Errorf("commit workspace: %w", err)
	}
	return nil
}

func (e *cliEngine) Tag(ctx context.Context, source, target string) error {
	if err := e.run(ctx, "tag", source, target); err != nil {
		return fmt.Errorf("tag image: %w", err)
	}
	return nil
}

func (e *cliEngine) Push(ctx context.Context, image string, output io.Writer) error {
	cmd := e.command(ctx, "push", image)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPushFailed, image, err)
	}
	return nil
}

func (e *cliEngine) Remove(ctx context.Context, containerID string) error {
	if err := e.run(ctx, "rm", "-f", containerID); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (e *cliEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, image)

	if err := e.run(ctx, args...); err != nil {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func (e *cliEngine) ImageSize(ctx context.Context, image string) (int64, error) {
	out, err := e.output(ctx, "image", "inspect", "--format", "{{.Size}}", image)
	if err != nil {
		return 0, fmt.Errorf("inspect image size: %w", err)
	}

	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse image size %q: %w", strings.TrimSpace(out), err)
	}
	return size, nil
}

func (e *cliEngine) command(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// run executes a command, folding its combined output into the error
// so failures carry the engine's diagnostic.
func (e *cliEngine) run(ctx context.Context, args ...string) error {
	out, err := e.command(ctx, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", e.name, args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *cliEngine) output(ctx context.Context, args ...string) (string, error) {
	out, err := e.command(ctx, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s %s: %w: %s", e.name, args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%s %s: %w", e.name, args[0], err)
	}
	return string(out), nil
}

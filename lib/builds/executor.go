package builds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kilnworks/kiln/lib/buildctx"
	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
)

// buildResult carries the outputs of a successful build
type buildResult struct {
	ImageID   string
	SizeBytes int64
	PushRef   string
}

// executeBuild runs one build end to end: resolve the base image, pull
// it, start a workspace container, run the provisioning commands in
// order, and commit the workspace filesystem as the output image.
func (m *manager) executeBuild(ctx context.Context, meta *buildMetadata, log io.Writer, tracker *ProgressTracker) (*buildResult, error) {
	id := meta.ID

	// Start tracing span if tracer is available
	if m.metrics != nil && m.metrics.tracer != nil {
		var span trace.Span
		ctx, span = m.metrics.tracer.Start(ctx, "ExecuteBuild")
		defer span.End()
	}

	// 1. Resolve the base reference to a digest so the build records
	// the exact image it started from even if the tag later moves
	tracker.Update(StatusResolving, 0, nil)

	ref, err := images.ParseNormalizedRef(meta.BaseImage)
	if err != nil {
		return nil, fmt.Errorf("parse base image: %w", err)
	}

	pullRef := ref.String()
	digest, err := ref.ResolveDigest(ctx, m.resolver)
	if err != nil {
		// Registry unreachable. A base image already present in the
		// engine still lets the build proceed, just unpinned.
		exists, existsErr := m.engine.ImageExists(ctx, pullRef)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("resolve base image: %w", err)
		}
		m.logger.Warn("base digest resolution failed, using local image", "id", id, "base", pullRef, "error", err)
		digest = ""
	} else {
		pullRef = ref.Repository() + "@" + digest
		m.updateMetadata(id, func(meta *buildMetadata) { meta.BaseDigest = digest })
	}

	// 2. Materialize the base image
	exists, err := m.engine.ImageExists(ctx, pullRef)
	if err != nil {
		return nil, fmt.Errorf("check base image: %w", err)
	}
	if !exists {
		tracker.Update(StatusPulling, 0, nil)
		fmt.Fprintf(log, "--- pulling %s\n", pullRef)
		if err := m.engine.Pull(ctx, pullRef, log); err != nil {
			return nil, err
		}
	}

	// 3. Unpack the uploaded build context, if any
	var contextDir string
	if meta.HasContext {
		contextDir = m.paths.BuildContextDir(id)
		if err := m.unpackContext(id); err != nil {
			return nil, fmt.Errorf("unpack context: %w", err)
		}
	}

	// 4. Start the workspace container commands will run in
	workspaceID, err := m.engine.CreateWorkspace(ctx, engine.WorkspaceOptions{
		Image:      pullRef,
		Name:       "kiln-build-" + id,
		ContextDir: contextDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	m.updateMetadata(id, func(meta *buildMetadata) { meta.WorkspaceID = &workspaceID })

	// The committed image is the only output that outlives the build;
	// the workspace container goes regardless of outcome
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.engine.Remove(cleanupCtx, workspaceID); err != nil {
			m.logger.Warn("failed to remove workspace", "id", id, "workspace", workspaceID, "error", err)
		}
	}()

	// 5. Run the provisioning commands strictly in document order
	tracker.Update(StatusRunning, 0, nil)
	steps, err := m.runSteps(ctx, workspaceID, meta.Commands, log, func(ordinal int) {
		tracker.Update(StatusRunning, ordinal, nil)
	})
	if len(steps) > 0 {
		m.updateMetadata(id, func(meta *buildMetadata) { meta.Steps = steps })
	}
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			failed := steps[len(steps)-1]
			m.updateMetadata(id, func(meta *buildMetadata) { meta.FailedStep = &failed })
		}
		return nil, err
	}

	// 6. Commit the workspace filesystem as the output image
	tracker.Update(StatusCommitting, 0, nil)
	fmt.Fprintf(log, "--- committing %s\n", meta.Tag)
	if err := m.engine.Commit(ctx, workspaceID, engine.CommitOptions{
		Tag:        meta.Tag,
		BaseName:   meta.BaseImage,
		BaseDigest: digest,
	}); err != nil {
		return nil, fmt.Errorf("commit workspace: %w", err)
	}

	sizeBytes, err := m.engine.ImageSize(ctx, meta.Tag)
	if err != nil {
		m.logger.Warn("failed to read committed image size", "id", id, "tag", meta.Tag, "error", err)
		sizeBytes = 0
	}

	// 7. Push to the configured registry when requested
	var pushRef string
	if meta.PushRef != "" {
		tracker.Update(StatusPushing, 0, nil)
		fmt.Fprintf(log, "--- pushing %s\n", meta.PushRef)
		if err := m.engine.Tag(ctx, meta.Tag, meta.PushRef); err != nil {
			return nil, fmt.Errorf("tag for push: %w", err)
		}
		if err := m.engine.Push(ctx, meta.PushRef, log); err != nil {
			return nil, err
		}
		pushRef = meta.PushRef
	}

	// 8. Record the committed image
	img, err := m.images.RecordImage(ctx, images.RecordImageRequest{
		Tag:        meta.Tag,
		BaseImage:  meta.BaseImage,
		BaseDigest: digest,
		BuildID:    id,
		SizeBytes:  sizeBytes,
		PushedTo:   pushRef,
	})
	if err != nil {
		return nil, fmt.Errorf("record image: %w", err)
	}
	m.updateMetadata(id, func(meta *buildMetadata) { meta.ImageID = &img.ID })

	return &buildResult{ImageID: img.ID, SizeBytes: sizeBytes, PushRef: pushRef}, nil
}

// runSteps executes the provisioning commands inside the workspace,
// strictly in document order. Each command is its own /bin/sh -c
// invocation; command i+1 starts only after command i exited zero. The
// first non-zero exit stops the build with a CommandError naming the
// command's position and text, and the remaining commands never run.
// An empty command list succeeds without executing anything.
func (m *manager) runSteps(ctx context.Context, workspaceID string, commands []string, log io.Writer, onStep func(ordinal int)) ([]StepResult, error) {
	total := len(commands)
	steps := make([]StepResult, 0, total)

	for i, command := range commands {
		ordinal := i + 1

		if err := ctx.Err(); err != nil {
			return steps, err
		}
		if onStep != nil {
			onStep(ordinal)
		}

		fmt.Fprintf(log, "--- step %d/%d: %s\n", ordinal, total, command)
		m.logger.Info("running step", "workspace", workspaceID, "step", ordinal, "total", total, "command", command)

		start := time.Now()
		exitCode, err := m.engine.Exec(ctx, workspaceID, command, log)
		if err != nil {
			return steps, fmt.Errorf("step %d/%d: %w", ordinal, total, err)
		}

		// A command killed by cancellation is not a command failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			return steps, ctxErr
		}

		steps = append(steps, StepResult{
			Ordinal:    ordinal,
			Command:    command,
			ExitCode:   exitCode,
			DurationMS: time.Since(start).Milliseconds(),
		})

		if exitCode != 0 {
			m.recordStep(ctx, "failed")
			return steps, &CommandError{Ordinal: ordinal, Command: command, ExitCode: exitCode}
		}
		m.recordStep(ctx, "ok")
	}

	return steps, nil
}

// unpackContext extracts the uploaded context archive so the workspace
// can bind-mount the directory read-only at /ctx.
func (m *manager) unpackContext(id string) error {
	f, err := os.Open(m.paths.BuildContextArchive(id))
	if err != nil {
		return fmt.Errorf("open context archive: %w", err)
	}
	defer f.Close()

	size, err := buildctx.Unpack(f, m.paths.BuildContextDir(id), int64(m.config.MaxContextBytes))
	if err != nil {
		return err
	}

	m.logger.Debug("unpacked build context", "id", id, "bytes", size)
	return nil
}

// recordStep records a step metric when metrics are enabled
func (m *manager) recordStep(ctx context.Context, status string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordStep(ctx, status, m.engine.Name())
}

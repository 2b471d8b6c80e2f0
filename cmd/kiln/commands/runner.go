package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/buildspec"
	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
	"github.com/kilnworks/kiln/lib/logger"
	"github.com/kilnworks/kiln/lib/paths"
)

// BuildOptions configures a one-shot build.
type BuildOptions struct {
	// Spec is the effective document, with $extend already resolved.
	Spec *buildspec.Spec

	// Tag is the reference for the committed image.
	Tag string

	// PushRegistry, when set, pushes the committed image there.
	PushRegistry string

	// Engine selects docker or podman; empty auto-detects.
	Engine string

	// DataDir holds build records and logs. Defaults to the user
	// cache directory.
	DataDir string

	// TimeoutSeconds bounds the build; 0 uses the manager default.
	TimeoutSeconds int
}

// Runner executes one-shot builds, streaming the build log to logs and
// returning the final build record.
type Runner interface {
	Build(ctx context.Context, opts BuildOptions, logs io.Writer) (*builds.Build, error)
}

// localRunner drives the same build manager the daemon uses, rooted at
// a per-user data directory.
type localRunner struct{}

// NewLocalRunner creates the default runner.
func NewLocalRunner() Runner {
	return &localRunner{}
}

func (localRunner) Build(ctx context.Context, opts BuildOptions, logs io.Writer) (*builds.Build, error) {
	eng, err := engine.Detect(ctx, opts.Engine)
	if err != nil {
		return nil, err
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dataDir = filepath.Join(cacheDir, "kiln")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log := cliLogger()
	p := paths.New(dataDir)
	imageManager := images.NewManager(p, eng, log)

	cfg := builds.DefaultConfig()
	cfg.MaxConcurrentBuilds = 1
	cfg.PushRegistry = opts.PushRegistry
	if opts.TimeoutSeconds > 0 {
		cfg.TimeoutSeconds = opts.TimeoutSeconds
	}

	manager, err := builds.NewManager(p, cfg, eng, imageManager, images.NewResolver(), log, nil)
	if err != nil {
		return nil, err
	}

	build, err := manager.CreateBuild(ctx, builds.CreateBuildRequest{
		Spec: opts.Spec,
		Tag:  opts.Tag,
		Push: opts.PushRegistry != "",
	}, nil)
	if err != nil {
		return nil, err
	}

	// Stream the build log until the build completes or ctx collapses
	lines, err := manager.FollowLogs(ctx, build.ID)
	if err != nil {
		return nil, err
	}
	for line := range lines {
		fmt.Fprintln(logs, line)
	}

	// An interrupt closed the stream before the build finished; stop
	// the build so its workspace does not outlive the CLI
	if ctx.Err() != nil {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.CancelBuild(cancelCtx, build.ID); err != nil {
			log.Warn("cancel interrupted build", "id", build.ID, "error", err)
		}
	}

	return manager.GetBuild(context.Background(), build.ID)
}

// cliLogger keeps manager noise out of the build output: text format,
// warnings and up unless LOG_LEVEL says otherwise.
func cliLogger() *slog.Logger {
	cfg := logger.NewConfig()
	cfg.Format = "text"
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Level = slog.LevelWarn
	}
	return logger.NewSubsystemLogger(logger.SubsystemCLI, cfg, nil)
}

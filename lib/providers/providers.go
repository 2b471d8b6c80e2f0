// Package providers holds the constructor functions the daemon's wire
// injector assembles the application from.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilnworks/kiln/cmd/kilnd/config"
	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/buildspec"
	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
	"github.com/kilnworks/kiln/lib/logger"
	kilnotel "github.com/kilnworks/kiln/lib/otel"
	"github.com/kilnworks/kiln/lib/paths"
	"github.com/kilnworks/kiln/lib/registry"
)

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideTelemetry provides the OTel SDK. The returned cleanup flushes
// and shuts the exporters down. With no OTLP endpoint configured the
// SDK is disabled and cleanup is a no-op.
func ProvideTelemetry(ctx context.Context, cfg *config.Config) (*kilnotel.SDK, func(), error) {
	sdk, err := kilnotel.Setup(ctx, kilnotel.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "kilnd",
		ServiceVersion: config.Version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("setup telemetry: %w", err)
	}

	cleanup := func() {
		if err := sdk.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}
	return sdk, cleanup, nil
}

// ProvideLogger provides the daemon's root logger, fanned out to the
// OTLP log exporter when telemetry is enabled
func ProvideLogger(sdk *kilnotel.SDK) *slog.Logger {
	return logger.NewSubsystemLogger(logger.SubsystemAPI, logger.NewConfig(), sdk.LogHandler())
}

// ProvideEngine detects the container engine builds run against
func ProvideEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	eng, err := engine.Detect(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// ProvideResolver provides the registry digest resolver
func ProvideResolver() images.Resolver {
	return images.NewResolver()
}

// ProvideImageManager provides the image manager
func ProvideImageManager(p *paths.Paths, eng engine.Engine, sdk *kilnotel.SDK) (images.Manager, error) {
	log := logger.NewSubsystemLogger(logger.SubsystemImages, logger.NewConfig(), sdk.LogHandler())
	m := images.NewManager(p, eng, log)

	if sdk.Enabled() {
		if _, err := kilnotel.NewImageMetrics(sdk.Meter(), m); err != nil {
			return nil, fmt.Errorf("create image metrics: %w", err)
		}
	}
	return m, nil
}

// ProvideBuildManager provides the build manager
func ProvideBuildManager(
	p *paths.Paths,
	cfg *config.Config,
	eng engine.Engine,
	imageManager images.Manager,
	resolver images.Resolver,
	sdk *kilnotel.SDK,
) (builds.Manager, error) {
	log := logger.NewSubsystemLogger(logger.SubsystemBuilds, logger.NewConfig(), sdk.LogHandler())

	return builds.NewManager(p, builds.Config{
		MaxConcurrentBuilds: cfg.MaxConcurrentBuilds,
		TimeoutSeconds:      cfg.BuildTimeoutSeconds,
		PushRegistry:        cfg.PushRegistry,
		MinFreeDisk:         cfg.MinFreeDisk,
		MaxContextBytes:     cfg.MaxContextSize,
	}, eng, imageManager, resolver, log, sdk.Meter())
}

// ProvideRegistry provides the embedded OCI registry
func ProvideRegistry(p *paths.Paths, sdk *kilnotel.SDK) (*registry.Registry, error) {
	log := logger.NewSubsystemLogger(logger.SubsystemRegistry, logger.NewConfig(), sdk.LogHandler())

	var metrics *kilnotel.RegistryMetrics
	if sdk.Enabled() {
		var err error
		metrics, err = kilnotel.NewRegistryMetrics(sdk.Meter())
		if err != nil {
			return nil, fmt.Errorf("create registry metrics: %w", err)
		}
	}
	return registry.New(p, log, metrics)
}

// ProvideDefaultSpec loads the provisioning document whose commands
// serve as the inherited defaults for $extend. Returns nil when none
// is configured.
func ProvideDefaultSpec(cfg *config.Config) (*buildspec.Spec, error) {
	if cfg.DefaultSpecPath == "" {
		return nil, nil
	}

	spec, err := buildspec.Load(cfg.DefaultSpecPath)
	if err != nil {
		return nil, fmt.Errorf("load default spec: %w", err)
	}
	return spec, nil
}

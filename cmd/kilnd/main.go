package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	openapi "github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/cmd/kilnd/api"
	"github.com/kilnworks/kiln/cmd/kilnd/config"
	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
	kilnmw "github.com/kilnworks/kiln/lib/middleware"
	kilnotel "github.com/kilnworks/kiln/lib/otel"
	"github.com/kilnworks/kiln/lib/registry"
)

// application holds the initialized components the injector assembles
type application struct {
	Ctx          context.Context
	Config       *config.Config
	Logger       *slog.Logger
	Telemetry    *kilnotel.SDK
	Engine       engine.Engine
	ImageManager images.Manager
	BuildManager builds.Manager
	Registry     *registry.Registry
	ApiService   *api.ApiService
}

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	logger := app.Logger
	slog.SetDefault(logger)
	cfg := app.Config

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(kilnmw.InjectLogger(logger))
	r.Use(kilnmw.AccessLogger(logger))
	r.Use(chimw.Recoverer)
	if app.Telemetry.Enabled() {
		r.Use(otelchi.Middleware("kilnd", otelchi.WithChiRoutes(r)))
		httpMetrics, err := kilnmw.NewHTTPMetrics(app.Telemetry.Meter())
		if err != nil {
			return fmt.Errorf("create http metrics: %w", err)
		}
		r.Use(httpMetrics.Middleware)
	}

	// Serve OpenAPI spec
	r.Get("/spec.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.oai.openapi")
		w.Write(openapi.OpenAPIYAML)
	})

	r.Get("/spec.json", func(w http.ResponseWriter, r *http.Request) {
		jsonData, err := yaml.YAMLToJSON(openapi.OpenAPIYAML)
		if err != nil {
			http.Error(w, "Failed to convert YAML to JSON", http.StatusInternalServerError)
			logger.ErrorContext(r.Context(), "Failed to convert YAML to JSON", "error", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	})

	// Health and the embedded registry stay outside the auth boundary:
	// load balancers probe /healthz unauthenticated and the engine CLI
	// pushing to /v2 does not send bearer tokens.
	r.Get("/healthz", app.ApiService.Health)
	r.Mount("/v2", app.Registry.Handler())

	// Mount API routes
	r.Group(func(r chi.Router) {
		if cfg.JwtSecret != "" {
			r.Use(kilnmw.VerifyJWT(cfg.JwtSecret))
		}
		app.ApiService.Mount(r)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	// Run the server
	grp.Go(func() error {
		logger.Info("starting kilnd",
			"port", cfg.Port,
			"version", config.Version,
			"engine", app.Engine.Name(),
			"data_dir", cfg.DataDir,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	// Shutdown handler
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}

		logger.Info("http server shutdown complete")
		return nil
	})

	return grp.Wait()
}

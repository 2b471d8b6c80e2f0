// Package registry embeds an OCI Distribution Spec registry in the
// daemon so builds can push to kilnd itself without standing up
// external infrastructure.
package registry

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"

	"github.com/google/go-containerregistry/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	kilnotel "github.com/kilnworks/kiln/lib/otel"
	"github.com/kilnworks/kiln/lib/paths"
)

// Registry serves the OCI Distribution API backed by on-disk blob
// storage under the data dir, so pushed layers survive a restart.
type Registry struct {
	logger  *slog.Logger
	metrics *kilnotel.RegistryMetrics
	handler http.Handler
}

// manifestPutPattern matches PUT requests to /v2/{name}/manifests/{reference}
var manifestPutPattern = regexp.MustCompile(`^/v2/(.+)/manifests/(.+)$`)

// New creates the embedded registry. metrics may be nil when telemetry
// is disabled.
func New(p *paths.Paths, logger *slog.Logger, metrics *kilnotel.RegistryMetrics) (*Registry, error) {
	if err := os.MkdirAll(p.RegistryDir(), 0755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	handler := registry.New(
		registry.WithBlobHandler(registry.NewDiskBlobHandler(p.RegistryDir())),
		registry.Logger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug)),
	)

	return &Registry{
		logger:  logger,
		metrics: metrics,
		handler: handler,
	}, nil
}

// Handler returns the http.Handler for the /v2 endpoints. Manifest PUTs
// are observed on the way through so completed pushes show up in logs
// and metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPut {
			if matches := manifestPutPattern.FindStringSubmatch(req.URL.Path); matches != nil {
				repo, reference := matches[1], matches[2]

				wrapped := &statusRecorder{ResponseWriter: w}
				r.handler.ServeHTTP(wrapped, req)

				if wrapped.status == http.StatusCreated {
					r.logger.Info("image pushed", "repository", repo, "reference", reference)
					if r.metrics != nil {
						r.metrics.ManifestPushes.Add(req.Context(), 1, metric.WithAttributes(
							attribute.String("repository", repo),
						))
					}
				}
				return
			}
		}

		r.handler.ServeHTTP(w, req)
	})
}

// statusRecorder captures the status code from the response
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Package api implements the daemon's HTTP handlers over the domain
// managers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/kiln/cmd/kilnd/config"
	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/buildspec"
	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
	"github.com/kilnworks/kiln/lib/paths"
)

// ApiService holds the handlers' dependencies
type ApiService struct {
	Config       *config.Config
	Defaults     *buildspec.Spec // inherited command list for $extend, nil when unconfigured
	BuildManager builds.Manager
	ImageManager images.Manager
	Engine       engine.Engine
	Paths        *paths.Paths
}

// New creates a new ApiService
func New(
	cfg *config.Config,
	defaults *buildspec.Spec,
	buildManager builds.Manager,
	imageManager images.Manager,
	eng engine.Engine,
	p *paths.Paths,
) *ApiService {
	return &ApiService{
		Config:       cfg,
		Defaults:     defaults,
		BuildManager: buildManager,
		ImageManager: imageManager,
		Engine:       eng,
		Paths:        p,
	}
}

// Mount registers the build and image routes on r. The health endpoint
// is registered separately so it stays outside the auth boundary.
func (s *ApiService) Mount(r chi.Router) {
	r.Route("/builds", func(r chi.Router) {
		r.Post("/", s.CreateBuild)
		r.Get("/", s.ListBuilds)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetBuild)
			r.Delete("/", s.CancelBuild)
			r.Get("/logs", s.GetBuildLogs)
			r.Get("/progress", s.GetBuildProgress)
		})
	})

	r.Route("/images", func(r chi.Router) {
		r.Get("/", s.ListImages)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetImage)
			r.Delete("/", s.DeleteImage)
		})
	})
}

// Error is the body of every non-2xx JSON response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Code: code, Message: message})
}

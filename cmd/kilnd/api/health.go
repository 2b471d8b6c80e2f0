package api

import (
	"net/http"
	"os"

	"github.com/kilnworks/kiln/cmd/kilnd/config"
)

// HealthResponse reports whether the daemon can actually run builds
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Engine          string `json:"engine"`
	EngineAvailable bool   `json:"engine_available"`
	DataDirWritable bool   `json:"data_dir_writable"`
}

// Health reports daemon health: the engine must answer and the data
// directory must accept writes. Either failing degrades the daemon to
// 503 so load balancers stop routing builds at it.
func (s *ApiService) Health(w http.ResponseWriter, r *http.Request) {
	engineOK := s.Engine.Available(r.Context())
	dataOK := dataDirWritable(s.Paths.DataDir())

	resp := HealthResponse{
		Status:          "ok",
		Version:         config.Version,
		Engine:          s.Engine.Name(),
		EngineAvailable: engineOK,
		DataDirWritable: dataOK,
	}

	status := http.StatusOK
	if !engineOK || !dataOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// dataDirWritable probes the data directory with a throwaway file
func dataDirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".healthz-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

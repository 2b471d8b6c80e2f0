package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/kiln/lib/images"
)

// ListImages lists all committed image records, newest first
func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.ImageManager.ListImages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fromImages(imgs))
}

// GetImage returns a single image record
func (s *ApiService) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.ImageManager.GetImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeImageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromImage(img))
}

// DeleteImage removes an image record and, unless ?keep_engine_image=true,
// the engine-side image it describes
func (s *ApiService) DeleteImage(w http.ResponseWriter, r *http.Request) {
	removeFromEngine := r.URL.Query().Get("keep_engine_image") != "true"

	err := s.ImageManager.DeleteImage(r.Context(), chi.URLParam(r, "id"), removeFromEngine)
	if err != nil {
		writeImageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeImageError(w http.ResponseWriter, err error) {
	if errors.Is(err, images.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "error", err.Error())
}

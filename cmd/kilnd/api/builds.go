package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/buildspec"
	"github.com/kilnworks/kiln/lib/logger"
)

// maxSpecBytes caps the provisioning document size. Documents are a
// handful of lines; anything near this large is a mistake or an attack.
const maxSpecBytes = 1 << 20

// CreateBuild starts a new build from a provisioning document.
//
// Two request shapes are accepted:
//   - multipart/form-data with a "spec" file (the document), an
//     optional "context" file (gzipped tar mounted at /ctx) and
//     optional "tag"/"push" fields
//   - the document itself as the body, with ?tag= and ?push=true
func (s *ApiService) CreateBuild(w http.ResponseWriter, r *http.Request) {
	docData, contextData, tag, push, err := parseCreateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	overlay, err := buildspec.Parse(docData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", err.Error())
		return
	}

	// Resolve $extend against the configured default command list. With
	// no defaults configured both document forms degenerate to the
	// literal list.
	spec := buildspec.Merge(s.Defaults, overlay)
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_spec", err.Error())
		return
	}

	build, err := s.BuildManager.CreateBuild(r.Context(), builds.CreateBuildRequest{
		Spec: spec,
		Tag:  tag,
		Push: push,
	}, contextData)
	if err != nil {
		if errors.Is(err, builds.ErrDiskSpaceLow) {
			writeError(w, http.StatusServiceUnavailable, "disk_space_low", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, fromBuild(build))
}

// parseCreateRequest pulls the document, optional context archive and
// options out of either request shape.
func parseCreateRequest(r *http.Request) (docData, contextData []byte, tag string, push bool, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxSpecBytes); err != nil {
			return nil, nil, "", false, errors.New("malformed multipart request")
		}

		docData, err = formFileBytes(r, "spec")
		if err != nil {
			return nil, nil, "", false, errors.New("multipart request requires a spec file")
		}

		// The context archive is optional
		if contextData, err = formFileBytes(r, "context"); err != nil {
			contextData = nil
		}

		return docData, contextData, r.FormValue("tag"), r.FormValue("push") == "true", nil
	}

	docData, err = io.ReadAll(io.LimitReader(r.Body, maxSpecBytes))
	if err != nil {
		return nil, nil, "", false, errors.New("failed to read request body")
	}
	if len(docData) == 0 {
		return nil, nil, "", false, errors.New("request body is empty")
	}

	q := r.URL.Query()
	return docData, nil, q.Get("tag"), q.Get("push") == "true", nil
}

func formFileBytes(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ListBuilds lists all builds, newest first
func (s *ApiService) ListBuilds(w http.ResponseWriter, r *http.Request) {
	list, err := s.BuildManager.ListBuilds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fromBuilds(list))
}

// GetBuild returns a single build record
func (s *ApiService) GetBuild(w http.ResponseWriter, r *http.Request) {
	build, err := s.BuildManager.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBuildError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromBuild(build))
}

// CancelBuild cancels a pending or running build
func (s *ApiService) CancelBuild(w http.ResponseWriter, r *http.Request) {
	err := s.BuildManager.CancelBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, builds.ErrAlreadyCompleted) {
			writeError(w, http.StatusConflict, "already_completed", err.Error())
			return
		}
		writeBuildError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBuildLogs returns the build log. With ?follow=true the connection
// upgrades to a websocket that streams lines until the build completes.
func (s *ApiService) GetBuildLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("follow") == "true" {
		s.followBuildLogs(w, r, id)
		return
	}

	logs, err := s.BuildManager.GetBuildLogs(r.Context(), id)
	if err != nil {
		writeBuildError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(logs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon serves operators on a trusted network; auth, when
	// enabled, already ran in the middleware chain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *ApiService) followBuildLogs(w http.ResponseWriter, r *http.Request, id string) {
	log := logger.FromContext(r.Context())

	// Verify before upgrading so an unknown build is a plain 404
	if _, err := s.BuildManager.GetBuild(r.Context(), id); err != nil {
		writeBuildError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WarnContext(r.Context(), "websocket upgrade failed", "id", id, "error", err)
		return
	}
	defer conn.Close()

	// After the upgrade the request context no longer tracks the
	// client; a read pump detects the client going away instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lines, err := s.BuildManager.FollowLogs(ctx, id)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}

	for line := range lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	// The channel closed: the build is terminal and the log is drained
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "build complete"))
}

// GetBuildProgress streams progress updates as server-sent events until
// the build completes or the client disconnects.
func (s *ApiService) GetBuildProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "error", "streaming not supported")
		return
	}

	ch, err := s.BuildManager.SubscribeProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBuildError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reader := builds.ToSSEReader(ch)
	defer reader.Close()
	io.Copy(flushWriter{w: w, f: flusher}, reader)
}

// flushWriter flushes after every write so each SSE event leaves
// immediately.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

func writeBuildError(w http.ResponseWriter, err error) {
	if errors.Is(err, builds.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "error", err.Error())
}

package registry

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/lib/paths"
)

func newTestRegistry(t *testing.T) (*Registry, *paths.Paths, *httptest.Server) {
	t.Helper()
	p := paths.New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := New(p, logger, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/v2", reg.Handler())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return reg, p, ts
}

func TestRegistryVersionCheck(t *testing.T) {
	_, _, ts := newTestRegistry(t)

	resp, err := http.Get(ts.URL + "/v2/")
	require.NoError(t, err)
	defer resp.Body.Close()

	// OCI Distribution Spec requires 200 OK for the version check
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegistryPushAndPull(t *testing.T) {
	_, p, ts := newTestRegistry(t)
	serverHost := strings.TrimPrefix(ts.URL, "http://")

	img, err := random.Image(1024, 2)
	require.NoError(t, err)
	digest, err := img.Digest()
	require.NoError(t, err)

	ref, err := name.ParseReference(serverHost+"/kiln/test:latest", name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, img))

	// Blobs landed on disk, not in memory
	entries, err := os.ReadDir(p.RegistryDir())
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	// The pushed image round-trips
	pulled, err := remote.Image(ref)
	require.NoError(t, err)
	pulledDigest, err := pulled.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, pulledDigest)
}

func TestRegistrySecondPushReusesBlobs(t *testing.T) {
	_, _, ts := newTestRegistry(t)
	serverHost := strings.TrimPrefix(ts.URL, "http://")

	img, err := random.Image(1024, 2)
	require.NoError(t, err)
	ref, err := name.ParseReference(serverHost+"/kiln/cached:latest", name.Insecure)
	require.NoError(t, err)

	countUploads := func() (*loggingTransport, *int) {
		uploads := 0
		return &loggingTransport{
			transport: http.DefaultTransport,
			log: func(method, path string) {
				if method == http.MethodPut && strings.Contains(path, "/blobs/uploads/") {
					uploads++
				}
			},
		}, &uploads
	}

	first, firstUploads := countUploads()
	require.NoError(t, remote.Write(ref, img, remote.WithTransport(first)))
	assert.Greater(t, *firstUploads, 0)

	second, secondUploads := countUploads()
	require.NoError(t, remote.Write(ref, img, remote.WithTransport(second)))
	assert.Equal(t, 0, *secondUploads, "second push should find every blob cached")
}

// loggingTransport wraps an http.RoundTripper and records requests
type loggingTransport struct {
	transport http.RoundTripper
	log       func(method, path string)
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.log(req.Method, req.URL.Path)
	return t.transport.RoundTrip(req)
}

package api

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/cmd/kilnd/config"
	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/buildspec"
	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
	"github.com/kilnworks/kiln/lib/paths"
)

const testDigest = "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

// fakeEngine succeeds at everything unless told otherwise
type fakeEngine struct {
	mu          sync.Mutex
	execs       []string
	exitCodes   map[string]int
	removed     []string
	unavailable bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{exitCodes: make(map[string]int)}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Available(ctx context.Context) bool { return !f.unavailable }

func (f *fakeEngine) Pull(ctx context.Context, image string, output io.Writer) error { return nil }

func (f *fakeEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	return true, nil
}

func (f *fakeEngine) CreateWorkspace(ctx context.Context, opts engine.WorkspaceOptions) (string, error) {
	return "ws-" + opts.Name, nil
}

func (f *fakeEngine) Exec(ctx context.Context, containerID string, command string, output io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, command)
	io.WriteString(output, "output of "+command+"\n")
	return f.exitCodes[command], nil
}

func (f *fakeEngine) Commit(ctx context.Context, containerID string, opts engine.CommitOptions) error {
	return nil
}

func (f *fakeEngine) Tag(ctx context.Context, source, target string) error { return nil }

func (f *fakeEngine) Push(ctx context.Context, image string, output io.Writer) error { return nil }

func (f *fakeEngine) Remove(ctx context.Context, containerID string) error { return nil }

func (f *fakeEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, image)
	return nil
}

func (f *fakeEngine) ImageSize(ctx context.Context, image string) (int64, error) {
	return 1024, nil
}

func (f *fakeEngine) execCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execs...)
}

func (f *fakeEngine) removedImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, ref string) (string, error) {
	return testDigest, nil
}

// newTestService creates an ApiService over real managers rooted at a
// temporary data directory
func newTestService(t *testing.T, eng *fakeEngine, defaults *buildspec.Spec) *ApiService {
	t.Helper()

	cfg := &config.Config{DataDir: t.TempDir()}
	p := paths.New(cfg.DataDir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	imageManager := images.NewManager(p, eng, logger)

	buildConfig := builds.DefaultConfig()
	buildConfig.MinFreeDisk = 0
	buildManager, err := builds.NewManager(p, buildConfig, eng, imageManager, fakeResolver{}, logger, nil)
	require.NoError(t, err)

	return New(cfg, defaults, buildManager, imageManager, eng, p)
}

// newTestServer mounts the service the way the daemon does
func newTestServer(t *testing.T, svc *ApiService) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	svc.Mount(r)
	r.Get("/healthz", svc.Health)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func waitForStatus(t *testing.T, svc *ApiService, id, want string) *builds.Build {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		b, err := svc.BuildManager.GetBuild(context.Background(), id)
		require.NoError(t, err)
		if b.Status == want {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("build %s never reached status %s", id, want)
	return nil
}

package builds

import (
	"context"
	"io"
	"sync"

	"github.com/kilnworks/kiln/lib/engine"
)

// fakeEngine scripts engine behavior and records every call. Exec can
// be made to block on a channel so tests can cancel mid-command.
type fakeEngine struct {
	mu          sync.Mutex
	execs       []string // commands passed to Exec, in order
	exitCodes   map[string]int
	execErr     error
	execOutput  string
	blockExec   chan struct{}
	pulled      []string
	pullErr     error
	localImages map[string]bool
	workspaces  []engine.WorkspaceOptions
	committed   []engine.CommitOptions
	tagged      [][2]string
	pushed      []string
	removed     []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		exitCodes:   make(map[string]int),
		localImages: make(map[string]bool),
	}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Available(ctx context.Context) bool { return true }

func (f *fakeEngine) Pull(ctx context.Context, image string, output io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return f.pullErr
	}
	f.pulled = append(f.pulled, image)
	f.localImages[image] = true
	return nil
}

func (f *fakeEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localImages[image], nil
}

func (f *fakeEngine) CreateWorkspace(ctx context.Context, opts engine.WorkspaceOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces = append(f.workspaces, opts)
	return "ws-" + opts.Name, nil
}

func (f *fakeEngine) Exec(ctx context.Context, containerID string, command string, output io.Writer) (int, error) {
	f.mu.Lock()
	f.execs = append(f.execs, command)
	block := f.blockExec
	code := f.exitCodes[command]
	execErr := f.execErr
	out := f.execOutput
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			// The engine kills the command; the exit code is
			// meaningless at that point
			return -1, nil
		}
	}
	if execErr != nil {
		return -1, execErr
	}
	if out != "" {
		io.WriteString(output, out)
	}
	return code, nil
}

func (f *fakeEngine) Commit(ctx context.Context, containerID string, opts engine.CommitOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, opts)
	f.localImages[opts.Tag] = true
	return nil
}

func (f *fakeEngine) Tag(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagged = append(f.tagged, [2]string{source, target})
	f.localImages[target] = true
	return nil
}

func (f *fakeEngine) Push(ctx context.Context, image string, output io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, image)
	return nil
}

func (f *fakeEngine) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.localImages, image)
	return nil
}

func (f *fakeEngine) ImageSize(ctx context.Context, image string) (int64, error) {
	return 4096, nil
}

func (f *fakeEngine) execCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.execs))
	copy(out, f.execs)
	return out
}

func (f *fakeEngine) setExitCode(command string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitCodes[command] = code
}

func (f *fakeEngine) addLocalImage(image string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localImages[image] = true
}

func (f *fakeEngine) pulledImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.pulled))
	copy(out, f.pulled)
	return out
}

func (f *fakeEngine) committedOpts() []engine.CommitOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.CommitOptions, len(f.committed))
	copy(out, f.committed)
	return out
}

func (f *fakeEngine) workspaceOpts() []engine.WorkspaceOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.WorkspaceOptions, len(f.workspaces))
	copy(out, f.workspaces)
	return out
}

func (f *fakeEngine) removedContainers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

func (f *fakeEngine) pushedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.pushed))
	copy(out, f.pushed)
	return out
}

func (f *fakeEngine) taggedPairs() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.tagged))
	copy(out, f.tagged)
	return out
}

// fakeResolver answers digest lookups without a registry
type fakeResolver struct {
	digest string
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.digest, nil
}

package builds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/nrednav/cuid2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/kilnworks/kiln/lib/engine"
	"github.com/kilnworks/kiln/lib/images"
	"github.com/kilnworks/kiln/lib/paths"
)

// Manager interface for the build system
type Manager interface {
	// CreateBuild starts a new build job. contextData, when non-empty,
	// is a gzipped tar of files the build commands can read under /ctx.
	CreateBuild(ctx context.Context, req CreateBuildRequest, contextData []byte) (*Build, error)

	// GetBuild returns a build by ID
	GetBuild(ctx context.Context, id string) (*Build, error)

	// ListBuilds returns all builds
	ListBuilds(ctx context.Context) ([]*Build, error)

	// CancelBuild cancels a pending or running build
	CancelBuild(ctx context.Context, id string) error

	// GetBuildLogs returns the logs for a build
	GetBuildLogs(ctx context.Context, id string) ([]byte, error)

	// FollowLogs streams the build log line by line until the build
	// completes or ctx is cancelled
	FollowLogs(ctx context.Context, id string) (<-chan string, error)

	// SubscribeProgress streams progress updates for a build
	SubscribeProgress(ctx context.Context, id string) (chan ProgressUpdate, error)

	// RecoverInterrupted marks builds interrupted by a restart as failed
	RecoverInterrupted()
}

// Config holds configuration for the build manager
type Config struct {
	// MaxConcurrentBuilds is the maximum number of builds running at
	// once. Commands within one build always run sequentially; this
	// only bounds distinct builds.
	MaxConcurrentBuilds int

	// TimeoutSeconds is the per-build timeout in seconds
	TimeoutSeconds int

	// PushRegistry is the registry builds push to when requested
	PushRegistry string

	// MinFreeDisk is the free-space floor for accepting new builds
	MinFreeDisk datasize.ByteSize

	// MaxContextBytes caps the unpacked size of an uploaded build context
	MaxContextBytes datasize.ByteSize
}

// DefaultConfig returns the default build manager configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBuilds: 2,
		TimeoutSeconds:      600, // 10 minutes
		MinFreeDisk:         1 * datasize.GB,
		MaxContextBytes:     512 * datasize.MB,
	}
}

type manager struct {
	config   Config
	paths    *paths.Paths
	engine   engine.Engine
	images   images.Manager
	resolver images.Resolver
	logger   *slog.Logger
	metrics  *Metrics
	queue    *BuildQueue
	createMu sync.Mutex

	mu       sync.Mutex
	trackers map[string]*ProgressTracker
	cancels  map[string]context.CancelFunc
}

// NewManager creates a new build manager
func NewManager(
	p *paths.Paths,
	config Config,
	eng engine.Engine,
	imageManager images.Manager,
	resolver images.Resolver,
	logger *slog.Logger,
	meter metric.Meter,
) (Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = DefaultConfig().TimeoutSeconds
	}
	if config.MaxContextBytes == 0 {
		config.MaxContextBytes = DefaultConfig().MaxContextBytes
	}

	m := &manager{
		config:   config,
		paths:    p,
		engine:   eng,
		images:   imageManager,
		resolver: resolver,
		logger:   logger,
		queue:    NewBuildQueue(config.MaxConcurrentBuilds),
		trackers: make(map[string]*ProgressTracker),
		cancels:  make(map[string]context.CancelFunc),
	}

	// Initialize metrics if meter is provided
	if meter != nil {
		metrics, err := NewMetrics(meter, otel.Tracer("builds"), m.queue)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		m.metrics = metrics
	}

	// Mark any builds interrupted by a previous run
	m.RecoverInterrupted()

	return m, nil
}

// CreateBuild starts a new build job
func (m *manager) CreateBuild(ctx context.Context, req CreateBuildRequest, contextData []byte) (*Build, error) {
	if req.Spec == nil {
		return nil, fmt.Errorf("spec is required")
	}

	// Validate the document once more at the trust boundary; the CLI
	// and the API both funnel through here
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}
	ref, err := images.ParseNormalizedRef(req.Spec.BaseImage)
	if err != nil {
		return nil, err
	}

	m.logger.Info("creating build", "base", ref.String(), "commands", len(req.Spec.Commands))

	// Preflight check: refuse the build when disk space is low so the
	// API can return 503 synchronously
	if err := checkDiskSpace(m.paths.DataDir(), m.config.MinFreeDisk); err != nil {
		return nil, err
	}

	if req.Push && m.config.PushRegistry == "" {
		return nil, fmt.Errorf("push requested but no push registry configured")
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	// Generate build ID
	id := cuid2.Generate()

	tag := req.Tag
	if tag == "" {
		tag = "kiln/" + id
	}
	pushRef := ""
	if req.Push {
		pushRef = m.config.PushRegistry + "/" + tag
	}

	meta := &buildMetadata{
		ID:         id,
		Status:     StatusPending,
		BaseImage:  ref.String(),
		BaseDigest: ref.Digest(), // non-empty only for digest-pinned refs
		Commands:   req.Spec.Commands,
		Tag:        tag,
		PushRef:    pushRef,
		HasContext: len(contextData) > 0,
		TotalSteps: len(req.Spec.Commands),
		CreatedAt:  time.Now(),
	}

	// Write initial metadata
	if err := writeMetadata(m.paths, meta); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	// Store the context archive next to the metadata
	if len(contextData) > 0 {
		if err := os.WriteFile(m.paths.BuildContextArchive(id), contextData, 0644); err != nil {
			deleteBuild(m.paths, id)
			return nil, fmt.Errorf("store context: %w", err)
		}
	}

	tracker := NewProgressTracker(id, m.paths)
	m.mu.Lock()
	m.trackers[id] = tracker
	m.mu.Unlock()

	// Start now, or wait for a slot
	if pos := m.queue.Enqueue(id, func() { m.runBuild(context.Background(), id) }); pos > 0 {
		queuePos := pos
		m.updateMetadata(id, func(meta *buildMetadata) { meta.QueuePosition = &queuePos })
		m.logger.Info("build queued", "id", id, "position", pos)
	}

	meta, err = readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}

	m.logger.Info("build created", "id", id, "tag", tag)
	return meta.toBuild(), nil
}

// runBuild executes a build through the engine. It owns the build's
// terminal status: every exit path writes exactly one final state and
// finishes the progress tracker.
func (m *manager) runBuild(ctx context.Context, id string) {
	defer m.queue.MarkComplete(id)

	start := time.Now()
	m.logger.Info("starting build", "id", id)

	// Check if build was cancelled while queued
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		m.logger.Error("failed to read metadata at build start", "id", id, "error", err)
		return
	}
	if isTerminalStatus(meta.Status) {
		m.logger.Info("build already in terminal state, skipping", "id", id, "status", meta.Status)
		m.finishTracker(id)
		return
	}

	now := time.Now()
	m.updateMetadata(id, func(meta *buildMetadata) {
		meta.StartedAt = &now
		meta.QueuePosition = nil
	})

	// Create timeout context
	buildCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.TimeoutSeconds)*time.Second)
	defer cancel()

	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
	}()

	logFile, err := openLog(m.paths, id)
	if err != nil {
		m.logger.Error("open build log", "id", id, "error", err)
		errMsg := err.Error()
		m.updateBuildComplete(id, StatusFailed, nil, &errMsg, nil)
		m.finishTracker(id)
		return
	}
	defer logFile.Close()

	result, err := m.executeBuild(buildCtx, meta, logFile, m.tracker(id))

	duration := time.Since(start)
	durationMS := duration.Milliseconds()

	switch {
	case err == nil:
		m.logger.Info("build succeeded", "id", id, "image", result.ImageID, "duration", duration)
		m.updateBuildComplete(id, StatusReady, &result.ImageID, nil, &durationMS)
		m.recordBuild(ctx, "success", duration)

	case errors.Is(err, context.Canceled) && m.isCancelled(id):
		m.logger.Info("build cancelled", "id", id, "duration", duration)
		fmt.Fprintf(logFile, "build cancelled\n")
		m.recordBuild(ctx, "cancelled", duration)

	default:
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %d seconds", ErrBuildTimeout, m.config.TimeoutSeconds)
		}
		m.logger.Error("build failed", "id", id, "error", err, "duration", duration)
		fmt.Fprintf(logFile, "build failed: %v\n", err)
		errMsg := err.Error()
		m.updateBuildComplete(id, StatusFailed, nil, &errMsg, &durationMS)
		m.recordBuild(ctx, "failed", duration)
	}

	m.finishTracker(id)
}

// updateMetadata applies fn to a fresh read of the build metadata and
// writes it back, unless the build already reached a terminal status.
// The guard prevents a cancelled build being overwritten by the
// executor goroutine.
func (m *manager) updateMetadata(id string, fn func(meta *buildMetadata)) {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		m.logger.Error("read metadata for update", "id", id, "error", err)
		return
	}

	if isTerminalStatus(meta.Status) {
		m.logger.Debug("skipping metadata update for terminal build", "id", id, "status", meta.Status)
		return
	}

	fn(meta)

	if err := writeMetadata(m.paths, meta); err != nil {
		m.logger.Error("write metadata for update", "id", id, "error", err)
	}
}

// updateBuildComplete updates the build with final results
func (m *manager) updateBuildComplete(id string, status string, imageID *string, errMsg *string, durationMS *int64) {
	meta, readErr := readMetadata(m.paths, id)
	if readErr != nil {
		m.logger.Error("read metadata for completion", "id", id, "error", readErr)
		return
	}

	// Don't overwrite terminal states; a cancelled build keeps its
	// status even when the executor goroutine unwinds with an error
	if isTerminalStatus(meta.Status) {
		m.logger.Debug("skipping completion for terminal build", "id", id, "current", meta.Status, "requested", status)
		return
	}

	meta.Status = status
	if imageID != nil {
		meta.ImageID = imageID
	}
	meta.Error = errMsg
	meta.DurationMS = durationMS
	meta.CurrentStep = 0
	meta.QueuePosition = nil

	now := time.Now()
	meta.CompletedAt = &now

	if writeErr := writeMetadata(m.paths, meta); writeErr != nil {
		m.logger.Error("write metadata for completion", "id", id, "error", writeErr)
	}
}

// tracker returns the progress tracker for a build, creating one if
// the build predates this process.
func (m *manager) tracker(id string) *ProgressTracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr := m.trackers[id]
	if tr == nil {
		tr = NewProgressTracker(id, m.paths)
		m.trackers[id] = tr
	}
	return tr
}

// finishTracker broadcasts the terminal state and drops the tracker
func (m *manager) finishTracker(id string) {
	m.mu.Lock()
	tr := m.trackers[id]
	delete(m.trackers, id)
	m.mu.Unlock()

	if tr != nil {
		tr.Finish()
	}
}

// isCancelled reports whether the build is recorded as cancelled
func (m *manager) isCancelled(id string) bool {
	meta, err := readMetadata(m.paths, id)
	return err == nil && meta.Status == StatusCancelled
}

// recordBuild records a build metric when metrics are enabled
func (m *manager) recordBuild(ctx context.Context, status string, duration time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordBuild(ctx, status, m.engine.Name(), duration)
}

// GetBuild returns a build by ID
func (m *manager) GetBuild(ctx context.Context, id string) (*Build, error) {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}

	return meta.toBuild(), nil
}

// ListBuilds returns all builds, newest first
func (m *manager) ListBuilds(ctx context.Context) ([]*Build, error) {
	metas, err := listMetadata(m.paths)
	if err != nil {
		return nil, err
	}

	builds := make([]*Build, 0, len(metas))
	for _, meta := range metas {
		builds = append(builds, meta.toBuild())
	}
	sort.Slice(builds, func(i, j int) bool {
		return builds[i].CreatedAt.After(builds[j].CreatedAt)
	})

	return builds, nil
}

// CancelBuild cancels a pending or running build
func (m *manager) CancelBuild(ctx context.Context, id string) error {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return err
	}

	if isTerminalStatus(meta.Status) {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, meta.Status)
	}

	// Mark cancelled first so the executor goroutine cannot overwrite
	// it when its context collapses
	meta.Status = StatusCancelled
	meta.QueuePosition = nil
	now := time.Now()
	meta.CompletedAt = &now
	if err := writeMetadata(m.paths, meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	// Then stop the executor goroutine, if one is running
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// And remove the workspace container if one was started. Use a
	// fresh context with timeout since the request context may be
	// cancelled.
	if meta.WorkspaceID != nil {
		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelCleanup()
		if err := m.engine.Remove(cleanupCtx, *meta.WorkspaceID); err != nil {
			m.logger.Warn("failed to remove workspace during cancel", "id", id, "workspace", *meta.WorkspaceID, "error", err)
		}
	}

	m.finishTracker(id)

	m.logger.Info("build cancelled", "id", id)
	return nil
}

// GetBuildLogs returns the logs for a build
func (m *manager) GetBuildLogs(ctx context.Context, id string) ([]byte, error) {
	_, err := readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}

	return readLog(m.paths, id)
}

// SubscribeProgress streams progress updates for a build. Builds
// already in a terminal status get their final state on a channel that
// closes immediately.
func (m *manager) SubscribeProgress(ctx context.Context, id string) (chan ProgressUpdate, error) {
	m.mu.Lock()
	tr := m.trackers[id]
	m.mu.Unlock()

	if tr != nil {
		if ch, err := tr.Subscribe(ctx); err == nil {
			return ch, nil
		}
		// Tracker shut down between lookup and subscribe; fall
		// through to the terminal snapshot
	}

	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan ProgressUpdate, 1)
	ch <- ProgressUpdate{
		Status:        meta.Status,
		Step:          meta.CurrentStep,
		TotalSteps:    meta.TotalSteps,
		QueuePosition: meta.QueuePosition,
		Error:         meta.Error,
	}
	close(ch)
	return ch, nil
}

// RecoverInterrupted marks builds left non-terminal by a previous run
// as failed. The workspace container does not survive the daemon, so
// an interrupted build cannot be resumed, only reported.
func (m *manager) RecoverInterrupted() {
	interrupted, err := listInterrupted(m.paths)
	if err != nil {
		m.logger.Error("list interrupted builds for recovery", "error", err)
		return
	}

	for _, meta := range interrupted {
		m.logger.Info("marking interrupted build failed", "id", meta.ID, "status", meta.Status)

		errMsg := "interrupted by daemon restart"
		meta.Status = StatusFailed
		meta.Error = &errMsg
		meta.QueuePosition = nil
		now := time.Now()
		meta.CompletedAt = &now
		if err := writeMetadata(m.paths, meta); err != nil {
			m.logger.Error("write metadata for recovery", "id", meta.ID, "error", err)
			continue
		}

		// Clean up any leftover workspace container
		if meta.WorkspaceID != nil {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.engine.Remove(cleanupCtx, *meta.WorkspaceID); err != nil {
				m.logger.Warn("failed to remove leftover workspace", "id", meta.ID, "workspace", *meta.WorkspaceID, "error", err)
			}
			cancel()
		}
	}

	if len(interrupted) > 0 {
		m.logger.Info("recovered interrupted builds", "count", len(interrupted))
	}
}

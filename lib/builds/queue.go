package builds

import (
	"sync"
)

// queuedBuild represents a build waiting in queue
type queuedBuild struct {
	BuildID string
	StartFn func() // Callback to start the build
}

// BuildQueue manages concurrent builds with a configurable limit.
// Commands within one build always run strictly in sequence; the limit
// only bounds how many distinct builds run at once.
type BuildQueue struct {
	maxConcurrent int
	active        map[string]bool // buildID -> is running
	pending       []queuedBuild
	mu            sync.Mutex
}

// NewBuildQueue creates a new build queue with max concurrent limit
func NewBuildQueue(maxConcurrent int) *BuildQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BuildQueue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]bool),
		pending:       make([]queuedBuild, 0),
	}
}

// Enqueue adds a build to the queue and returns queue position
// Returns 0 if build starts immediately, >0 if queued
func (q *BuildQueue) Enqueue(buildID string, startFn func()) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	// If under limit, start immediately
	if len(q.active) < q.maxConcurrent {
		q.active[buildID] = true
		go startFn()
		return 0 // Running now, not queued
	}

	// Otherwise, add to queue
	q.pending = append(q.pending, queuedBuild{BuildID: buildID, StartFn: startFn})
	return len(q.pending) // Position in queue
}

// MarkComplete marks a build as complete and starts the next queued build
func (q *BuildQueue) MarkComplete(buildID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, buildID)

	// Try to start next build
	if len(q.pending) > 0 && len(q.active) < q.maxConcurrent {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.active[next.BuildID] = true
		go next.StartFn()
	}
}

// GetPosition returns the queue position for a build
// Returns nil if not in queue (either running or complete)
func (q *BuildQueue) GetPosition(buildID string) *int {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Check if actively running
	if q.active[buildID] {
		return nil
	}

	// Check if in queue
	for i, build := range q.pending {
		if build.BuildID == buildID {
			pos := i + 1
			return &pos
		}
	}

	return nil
}

// ActiveCount returns number of actively running builds
func (q *BuildQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns number of queued builds
func (q *BuildQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

package builds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/kilnworks/kiln/lib/paths"
)

// ProgressUpdate represents a status update during a build
type ProgressUpdate struct {
	Status        string  `json:"status"`
	Step          int     `json:"step,omitempty"` // 1-based ordinal of the running command
	TotalSteps    int     `json:"total_steps,omitempty"`
	QueuePosition *int    `json:"queue_position,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// ProgressTracker tracks build progress and broadcasts updates to SSE subscribers
type ProgressTracker struct {
	buildID     string
	paths       *paths.Paths
	subscribers []chan ProgressUpdate
	mu          sync.RWMutex
	closed      bool
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(buildID string, p *paths.Paths) *ProgressTracker {
	return &ProgressTracker{
		buildID:     buildID,
		paths:       p,
		subscribers: make([]chan ProgressUpdate, 0),
	}
}

// Update records a transient status change and broadcasts it to all
// subscribers. Updates against a build already in a terminal status
// are dropped, so a cancelled build cannot be flipped back to running
// by the executor goroutine.
func (p *ProgressTracker) Update(status string, step int, queuePos *int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	meta, err := readMetadata(p.paths, p.buildID)
	if err != nil {
		return // Best effort
	}
	if isTerminalStatus(meta.Status) {
		return
	}

	meta.Status = status
	meta.CurrentStep = step
	meta.QueuePosition = queuePos
	writeMetadata(p.paths, meta)

	update := ProgressUpdate{
		Status:        status,
		Step:          step,
		TotalSteps:    meta.TotalSteps,
		QueuePosition: queuePos,
	}

	for _, ch := range p.subscribers {
		select {
		case ch <- update:
		default:
			// Non-blocking send (skip slow consumers)
		}
	}
}

// Finish broadcasts the terminal state recorded in metadata and closes
// all subscriber channels. Call it after the final metadata write.
func (p *ProgressTracker) Finish() {
	meta, err := readMetadata(p.paths, p.buildID)
	if err != nil {
		p.Close()
		return
	}

	update := ProgressUpdate{
		Status:     meta.Status,
		Step:       meta.CurrentStep,
		TotalSteps: meta.TotalSteps,
		Error:      meta.Error,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	for _, ch := range p.subscribers {
		select {
		case ch <- update:
		default:
		}
	}

	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// Subscribe adds a new SSE subscriber and returns their channel
func (p *ProgressTracker) Subscribe(ctx context.Context) (chan ProgressUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("tracker closed")
	}

	ch := make(chan ProgressUpdate, 10) // Buffered for slow consumers
	p.subscribers = append(p.subscribers, ch)

	// Send current state immediately
	meta, err := readMetadata(p.paths, p.buildID)
	if err == nil {
		ch <- ProgressUpdate{
			Status:        meta.Status,
			Step:          meta.CurrentStep,
			TotalSteps:    meta.TotalSteps,
			QueuePosition: meta.QueuePosition,
			Error:         meta.Error,
		}
	}

	// Close channel when context is done
	go func() {
		<-ctx.Done()
		p.Unsubscribe(ch)
	}()

	return ch, nil
}

// Unsubscribe removes a subscriber
func (p *ProgressTracker) Unsubscribe(ch chan ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close closes all subscriber channels
func (p *ProgressTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// ToSSEReader converts a progress channel to an io.ReadCloser for SSE streaming
func ToSSEReader(ch chan ProgressUpdate) io.ReadCloser {
	return &sseStream{ch: ch}
}

// sseStream implements io.ReadCloser for SSE streaming
type sseStream struct {
	ch     chan ProgressUpdate
	buffer []byte
}

func (s *sseStream) Read(p []byte) (n int, err error) {
	// If we have buffered data, return it first
	if len(s.buffer) > 0 {
		n = copy(p, s.buffer)
		s.buffer = s.buffer[n:]
		return n, nil
	}

	// Get next update from channel
	update, ok := <-s.ch
	if !ok {
		return 0, io.EOF
	}

	// Format as SSE
	data, _ := json.Marshal(update)
	s.buffer = []byte(fmt.Sprintf("data: %s\n\n", data))

	// Copy to output buffer
	n = copy(p, s.buffer)
	s.buffer = s.buffer[n:]
	return n, nil
}

func (s *sseStream) Close() error {
	return nil
}

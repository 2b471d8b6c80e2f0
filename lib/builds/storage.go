package builds

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kilnworks/kiln/lib/paths"
)

// buildMetadata is the on-disk record for a build
type buildMetadata struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	BaseImage  string   `json:"base_image"`
	BaseDigest string   `json:"base_digest,omitempty"`
	Commands   []string `json:"commands"`
	Tag        string   `json:"tag"`
	PushRef    string   `json:"push_ref,omitempty"`
	HasContext bool     `json:"has_context,omitempty"`

	WorkspaceID *string      `json:"workspace_id,omitempty"`
	ImageID     *string      `json:"image_id,omitempty"`
	Error       *string      `json:"error,omitempty"`
	FailedStep  *StepResult  `json:"failed_step,omitempty"`
	Steps       []StepResult `json:"steps,omitempty"`

	CurrentStep   int  `json:"current_step,omitempty"`
	TotalSteps    int  `json:"total_steps"`
	QueuePosition *int `json:"queue_position,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

// toBuild converts internal metadata to the public record
func (m *buildMetadata) toBuild() *Build {
	return &Build{
		ID:            m.ID,
		Status:        m.Status,
		BaseImage:     m.BaseImage,
		BaseDigest:    m.BaseDigest,
		Commands:      m.Commands,
		Tag:           m.Tag,
		PushRef:       m.PushRef,
		ImageID:       m.ImageID,
		Error:         m.Error,
		FailedStep:    m.FailedStep,
		Steps:         m.Steps,
		CurrentStep:   m.CurrentStep,
		TotalSteps:    m.TotalSteps,
		QueuePosition: m.QueuePosition,
		CreatedAt:     m.CreatedAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		DurationMS:    m.DurationMS,
	}
}

// writeMetadata writes metadata atomically using temp file + rename
func writeMetadata(p *paths.Paths, meta *buildMetadata) error {
	if err := os.MkdirAll(p.BuildDir(meta.ID), 0755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	// Write to temp file first
	finalPath := p.BuildMetadata(meta.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath) // cleanup
		return fmt.Errorf("rename metadata: %w", err)
	}

	return nil
}

// readMetadata reads metadata from disk
func readMetadata(p *paths.Paths, buildID string) (*buildMetadata, error) {
	data, err := os.ReadFile(p.BuildMetadata(buildID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta buildMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &meta, nil
}

// listMetadata lists all build metadata by scanning the builds directory
func listMetadata(p *paths.Paths) ([]*buildMetadata, error) {
	entries, err := os.ReadDir(p.BuildsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*buildMetadata{}, nil
		}
		return nil, fmt.Errorf("read builds directory: %w", err)
	}

	var metas []*buildMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := readMetadata(p, entry.Name())
		if err != nil {
			// Skip invalid entries rather than failing the listing
			continue
		}
		metas = append(metas, meta)
	}

	return metas, nil
}

// listInterrupted lists builds left in a non-terminal status, as found
// after a daemon restart.
func listInterrupted(p *paths.Paths) ([]*buildMetadata, error) {
	metas, err := listMetadata(p)
	if err != nil {
		return nil, err
	}

	var interrupted []*buildMetadata
	for _, meta := range metas {
		if !isTerminalStatus(meta.Status) {
			interrupted = append(interrupted, meta)
		}
	}

	return interrupted, nil
}

// deleteBuild removes the entire build directory
func deleteBuild(p *paths.Paths, buildID string) error {
	dir := p.BuildDir(buildID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat build directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove build directory: %w", err)
	}

	return nil
}

// openLog opens the build log for appending, creating it if needed.
func openLog(p *paths.Paths, buildID string) (*os.File, error) {
	if err := os.MkdirAll(p.BuildDir(buildID), 0755); err != nil {
		return nil, fmt.Errorf("create build directory: %w", err)
	}
	f, err := os.OpenFile(p.BuildLog(buildID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open build log: %w", err)
	}
	return f, nil
}

// readLog returns the full build log. A build that never started has
// no log file yet; that reads as empty, not as an error.
func readLog(p *paths.Paths, buildID string) ([]byte, error) {
	data, err := os.ReadFile(p.BuildLog(buildID))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("read build log: %w", err)
	}
	return data, nil
}

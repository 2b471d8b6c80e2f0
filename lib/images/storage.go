package images

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kilnworks/kiln/lib/paths"
)

// imageMetadata is the on-disk record for a committed image
type imageMetadata struct {
	ID         string    `json:"id"`
	Tag        string    `json:"tag"`
	BaseImage  string    `json:"base_image"`
	BaseDigest string    `json:"base_digest,omitempty"`
	BuildID    string    `json:"build_id,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	PushedTo   string    `json:"pushed_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// toImage converts internal metadata to the public record
func (m *imageMetadata) toImage() *Image {
	return &Image{
		ID:         m.ID,
		Tag:        m.Tag,
		BaseImage:  m.BaseImage,
		BaseDigest: m.BaseDigest,
		BuildID:    m.BuildID,
		SizeBytes:  m.SizeBytes,
		PushedTo:   m.PushedTo,
		CreatedAt:  m.CreatedAt,
	}
}

// writeMetadata writes metadata atomically using temp file + rename
func writeMetadata(p *paths.Paths, meta *imageMetadata) error {
	if err := os.MkdirAll(p.ImageDir(meta.ID), 0755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	// Write to temp file first
	finalPath := p.ImageMetadata(meta.ID)
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
func readMetadata(p *paths.Paths, imageID string) (*imageMetadata, error) {
	data, err := os.ReadFile(p.ImageMetadata(imageID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta imageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &meta, nil
}

// listMetadata lists all image metadata by scanning the images directory
func listMetadata(p *paths.Paths) ([]*imageMetadata, error) {
	entries, err := os.ReadDir(p.ImagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*imageMetadata{}, nil
		}
		return nil, fmt.Errorf("read images directory: %w", err)
	}

	var metas []*imageMetadata
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

// deleteImage removes the entire image record directory
func deleteImage(p *paths.Paths, imageID string) error {
	dir := p.ImageDir(imageID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat image directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove image directory: %w", err)
	}

	return nil
}

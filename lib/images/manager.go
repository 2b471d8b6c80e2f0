// Package images tracks the images committed by builds and resolves
// base image references against their registries.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kilnworks/kiln/lib/paths"
)

// ImageRemover is the engine surface the manager needs for deletes.
// engine.Engine satisfies it.
type ImageRemover interface {
	RemoveImage(ctx context.Context, image string, force bool) error
}

// Manager handles committed image records
type Manager interface {
	ListImages(ctx context.Context) ([]Image, error)
	GetImage(ctx context.Context, id string) (*Image, error)
	RecordImage(ctx context.Context, req RecordImageRequest) (*Image, error)
	DeleteImage(ctx context.Context, id string, removeFromEngine bool) error
}

type manager struct {
	paths   *paths.Paths
	remover ImageRemover
	logger  *slog.Logger
}

// NewManager creates a new image manager
func NewManager(p *paths.Paths, remover ImageRemover, logger *slog.Logger) Manager {
	return &manager{
		paths:   p,
		remover: remover,
		logger:  logger,
	}
}

func (m *manager) ListImages(ctx context.Context) ([]Image, error) {
	metas, err := listMetadata(m.paths)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}

	imgs := make([]Image, 0, len(metas))
	for _, meta := range metas {
		imgs = append(imgs, *meta.toImage())
	}
	sort.Slice(imgs, func(i, j int) bool {
		return imgs[i].CreatedAt.After(imgs[j].CreatedAt)
	})

	return imgs, nil
}

func (m *manager) GetImage(ctx context.Context, id string) (*Image, error) {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return nil, err
	}
	return meta.toImage(), nil
}

func (m *manager) RecordImage(ctx context.Context, req RecordImageRequest) (*Image, error) {
	id := generateImageID(req.Tag)

	// Rebuilding a tag replaces its record: the engine-side image was
	// already overwritten by the commit.
	if _, err := readMetadata(m.paths, id); err == nil {
		m.logger.Info("replacing image record", "id", id, "tag", req.Tag)
	}

	meta := &imageMetadata{
		ID:         id,
		Tag:        req.Tag,
		BaseImage:  req.BaseImage,
		BaseDigest: req.BaseDigest,
		BuildID:    req.BuildID,
		SizeBytes:  req.SizeBytes,
		PushedTo:   req.PushedTo,
		CreatedAt:  time.Now(),
	}

	if err := writeMetadata(m.paths, meta); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	return meta.toImage(), nil
}

func (m *manager) DeleteImage(ctx context.Context, id string, removeFromEngine bool) error {
	meta, err := readMetadata(m.paths, id)
	if err != nil {
		return err
	}

	if removeFromEngine {
		if err := m.remover.RemoveImage(ctx, meta.Tag, true); err != nil {
			// The engine copy may already be gone; the record still goes.
			m.logger.Warn("failed to remove engine image", "id", id, "tag", meta.Tag, "error", err)
		}
	}

	return deleteImage(m.paths, id)
}

// generateImageID creates a valid ID from an image tag
// Example: registry.example.com/kiln/velocyto:latest -> img-velocyto-latest
func generateImageID(tag string) string {
	// Drop the registry and repository path
	parts := strings.Split(tag, "/")
	nameTag := parts[len(parts)-1]

	// Replace special characters with dashes
	reg := regexp.MustCompile(`[^a-zA-Z0-9]+`)
	sanitized := reg.ReplaceAllString(nameTag, "-")
	sanitized = strings.Trim(sanitized, "-")

	// Add prefix
	return "img-" + sanitized
}

package api

import (
	"time"

	"github.com/samber/lo"

	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/images"
)

// Build is the API representation of a build job
type Build struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	BaseImage     string              `json:"base_image"`
	BaseDigest    string              `json:"base_digest,omitempty"`
	Commands      []string            `json:"commands"`
	Tag           string              `json:"tag"`
	PushRef       string              `json:"push_ref,omitempty"`
	ImageID       *string             `json:"image_id,omitempty"`
	Error         *string             `json:"error,omitempty"`
	FailedStep    *builds.StepResult  `json:"failed_step,omitempty"`
	Steps         []builds.StepResult `json:"steps,omitempty"`
	CurrentStep   int                 `json:"current_step,omitempty"`
	TotalSteps    int                 `json:"total_steps"`
	QueuePosition *int                `json:"queue_position,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	DurationMS    *int64              `json:"duration_ms,omitempty"`
}

func fromBuild(b *builds.Build) Build {
	return Build{
		ID:            b.ID,
		Status:        b.Status,
		BaseImage:     b.BaseImage,
		BaseDigest:    b.BaseDigest,
		Commands:      b.Commands,
		Tag:           b.Tag,
		PushRef:       b.PushRef,
		ImageID:       b.ImageID,
		Error:         b.Error,
		FailedStep:    b.FailedStep,
		Steps:         b.Steps,
		CurrentStep:   b.CurrentStep,
		TotalSteps:    b.TotalSteps,
		QueuePosition: b.QueuePosition,
		CreatedAt:     b.CreatedAt,
		StartedAt:     b.StartedAt,
		CompletedAt:   b.CompletedAt,
		DurationMS:    b.DurationMS,
	}
}

func fromBuilds(bs []*builds.Build) []Build {
	return lo.Map(bs, func(b *builds.Build, _ int) Build {
		return fromBuild(b)
	})
}

// Image is the API representation of a committed image record
type Image struct {
	ID         string    `json:"id"`
	Tag        string    `json:"tag"`
	BaseImage  string    `json:"base_image"`
	BaseDigest string    `json:"base_digest,omitempty"`
	BuildID    string    `json:"build_id,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	PushedTo   string    `json:"pushed_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func fromImage(img *images.Image) Image {
	return Image{
		ID:         img.ID,
		Tag:        img.Tag,
		BaseImage:  img.BaseImage,
		BaseDigest: img.BaseDigest,
		BuildID:    img.BuildID,
		SizeBytes:  img.SizeBytes,
		PushedTo:   img.PushedTo,
		CreatedAt:  img.CreatedAt,
	}
}

func fromImages(imgs []images.Image) []Image {
	return lo.Map(imgs, func(img images.Image, _ int) Image {
		return fromImage(&img)
	})
}

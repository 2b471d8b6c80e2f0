package images

import "time"

// Image is the record of an image committed by a build.
type Image struct {
	ID         string
	Tag        string // reference the committed image was tagged with
	BaseImage  string // normalized base reference the build started from
	BaseDigest string // resolved base manifest digest (sha256:...)
	BuildID    string
	SizeBytes  int64
	PushedTo   string // registry reference the image was pushed to, empty if unpushed
	CreatedAt  time.Time
}

// RecordImageRequest captures a committed image.
type RecordImageRequest struct {
	Tag        string
	BaseImage  string
	BaseDigest string
	BuildID    string
	SizeBytes  int64
	PushedTo   string
}

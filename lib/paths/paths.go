// Package paths centralizes the on-disk layout under the data directory.
package paths

import "path/filepath"

// Paths resolves file locations under the data directory. All packages
// derive paths from here rather than joining fragments themselves, so
// the layout is defined in exactly one place.
type Paths struct {
	dataDir string
}

// New creates a Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// BuildsDir returns the directory holding all build records.
func (p *Paths) BuildsDir() string {
	return filepath.Join(p.dataDir, "builds")
}

// BuildDir returns the directory for a single build.
func (p *Paths) BuildDir(id string) string {
	return filepath.Join(p.BuildsDir(), id)
}

// BuildMetadata returns the metadata file for a build.
func (p *Paths) BuildMetadata(id string) string {
	return filepath.Join(p.BuildDir(id), "metadata.json")
}

// BuildLog returns the log file for a build.
func (p *Paths) BuildLog(id string) string {
	return filepath.Join(p.BuildDir(id), "build.log")
}

// BuildContextArchive returns the uploaded context archive for a build.
func (p *Paths) BuildContextArchive(id string) string {
	return filepath.Join(p.BuildDir(id), "context.tar.gz")
}

// BuildContextDir returns the extracted context directory for a build.
func (p *Paths) BuildContextDir(id string) string {
	return filepath.Join(p.BuildDir(id), "context")
}

// ImagesDir returns the directory holding all committed image records.
func (p *Paths) ImagesDir() string {
	return filepath.Join(p.dataDir, "images")
}

// ImageDir returns the directory for a single image record.
func (p *Paths) ImageDir(id string) string {
	return filepath.Join(p.ImagesDir(), id)
}

// ImageMetadata returns the metadata file for an image record.
func (p *Paths) ImageMetadata(id string) string {
	return filepath.Join(p.ImageDir(id), "metadata.json")
}

// RegistryDir returns the blob storage directory for the embedded registry.
func (p *Paths) RegistryDir() string {
	return filepath.Join(p.dataDir, "registry")
}

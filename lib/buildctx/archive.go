// Package buildctx stages uploaded build contexts. A build request may
// carry a gzipped tar of supporting files; it is unpacked under the
// build's directory and bind-mounted read-only into the workspace at
// /ctx so commands can reference it.
package buildctx

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

var (
	// ErrArchiveTooLarge is returned when extracted content exceeds the size limit
	ErrArchiveTooLarge = errors.New("archive content exceeds size limit")
	// ErrInvalidArchivePath is returned when a tar entry has a malicious path
	ErrInvalidArchivePath = errors.New("invalid archive path")
)

// Unpack extracts a tar.gz build context to destDir, aborting once the
// extracted content exceeds maxBytes. Returns the total extracted
// bytes on success.
//
// Safety measures against adversarial archives:
//   - Cumulative extracted size is tracked and capped, so many small
//     entries cannot blow past the limit any more than one large one
//   - Entry paths are validated and joined with SecureJoin, so neither
//     ".." components nor previously extracted symlinks can route an
//     entry outside destDir
//   - Symlink and hardlink targets must stay inside destDir
func Unpack(r io.Reader, destDir string, maxBytes int64) (int64, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("create context dir: %w", err)
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	var extractedBytes int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extractedBytes, fmt.Errorf("read tar header: %w", err)
		}

		targetPath, err := entryPath(destDir, header.Name)
		if err != nil {
			return extractedBytes, err
		}

		if extractedBytes+header.Size > maxBytes {
			return extractedBytes, fmt.Errorf("%w: would exceed %d bytes", ErrArchiveTooLarge, maxBytes)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(header.Mode)); err != nil {
				return extractedBytes, fmt.Errorf("create dir %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir: %w", err)
			}

			f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return extractedBytes, fmt.Errorf("create file %s: %w", header.Name, err)
			}

			// LimitReader is secondary protection in case the header
			// lied about the entry size. +1 to detect overflow.
			remaining := maxBytes - extractedBytes
			n, err := io.Copy(f, io.LimitReader(tr, remaining+1))
			f.Close()

			if err != nil {
				return extractedBytes, fmt.Errorf("write file %s: %w", header.Name, err)
			}

			extractedBytes += n
			if extractedBytes > maxBytes {
				return extractedBytes, fmt.Errorf("%w: exceeded %d bytes", ErrArchiveTooLarge, maxBytes)
			}

		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return extractedBytes, fmt.Errorf("%w: absolute symlink target", ErrInvalidArchivePath)
			}

			// Resolve the target relative to the link's location and
			// reject links that point outside the context.
			resolved := filepath.Clean(filepath.Join(filepath.Dir(targetPath), header.Linkname))
			if !strings.HasPrefix(resolved, filepath.Clean(destDir)+string(os.PathSeparator)) &&
				resolved != filepath.Clean(destDir) {
				return extractedBytes, fmt.Errorf("%w: symlink escapes context", ErrInvalidArchivePath)
			}

			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir for symlink: %w", err)
			}
			if err := os.Symlink(header.Linkname, targetPath); err != nil {
				return extractedBytes, fmt.Errorf("create symlink %s: %w", header.Name, err)
			}

		case tar.TypeLink:
			linkTarget, err := entryPath(destDir, header.Linkname)
			if err != nil {
				return extractedBytes, err
			}

			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir for hardlink: %w", err)
			}
			if err := os.Link(linkTarget, targetPath); err != nil {
				return extractedBytes, fmt.Errorf("create hardlink %s: %w", header.Name, err)
			}

		default:
			// Skip devices, fifos, and other special entries
			continue
		}
	}

	return extractedBytes, nil
}

// entryPath validates a tar entry name and returns the extraction path
// inside destDir.
func entryPath(destDir, name string) (string, error) {
	name = filepath.Clean(name)

	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %s", ErrInvalidArchivePath, name)
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: path traversal in %s", ErrInvalidArchivePath, name)
	}

	// SecureJoin resolves symlinks already present under destDir, so
	// an entry cannot be routed through one to land outside it.
	targetPath, err := securejoin.SecureJoin(destDir, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArchivePath, name, err)
	}

	return targetPath, nil
}

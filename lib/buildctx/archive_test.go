package buildctx

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeContextArchive creates a tar.gz archive with the given files
func makeContextArchive(t *testing.T, files map[string][]byte) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	return &buf
}

func TestUnpack_Basic(t *testing.T) {
	files := map[string][]byte{
		"requirements.txt":  []byte("loompy==2.0.17\n"),
		"scripts/setup.sh":  []byte("#!/bin/sh\napt-get update\n"),
	}
	archive := makeContextArchive(t, files)

	destDir := t.TempDir()
	extracted, err := Unpack(archive, destDir, 1024*1024) // 1MB limit

	require.NoError(t, err)
	assert.Equal(t, int64(len(files["requirements.txt"])+len(files["scripts/setup.sh"])), extracted)

	content, err := os.ReadFile(filepath.Join(destDir, "requirements.txt"))
	require.NoError(t, err)
	assert.Equal(t, "loompy==2.0.17\n", string(content))

	content, err = os.ReadFile(filepath.Join(destDir, "scripts/setup.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\napt-get update\n", string(content))
}

func TestUnpack_SizeLimitExceeded(t *testing.T) {
	files := map[string][]byte{
		"large.bin": bytes.Repeat([]byte("x"), 1000),
	}
	archive := makeContextArchive(t, files)

	destDir := t.TempDir()
	_, err := Unpack(archive, destDir, 500) // 500 byte limit

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}

func TestUnpack_ManySmallFilesExceedLimit(t *testing.T) {
	files := make(map[string][]byte)
	for i := 0; i < 100; i++ {
		files[fmt.Sprintf("data/file_%03d.txt", i)] = bytes.Repeat([]byte("x"), 100)
	}
	archive := makeContextArchive(t, files)

	destDir := t.TempDir()
	_, err := Unpack(archive, destDir, 5000) // archive holds 10KB total

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}

func TestUnpack_PathTraversal(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name: "../../../etc/passwd",
		Mode: 0644,
		Size: 4,
	}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	destDir := t.TempDir()
	_, err = Unpack(&buf, destDir, 1024*1024)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

func TestUnpack_AbsolutePath(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name: "/etc/passwd",
		Mode: 0644,
		Size: 4,
	}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	destDir := t.TempDir()
	_, err = Unpack(&buf, destDir, 1024*1024)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

func TestUnpack_Symlink(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name: "target.txt",
		Mode: 0644,
		Size: 5,
	}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte("hello"))
	require.NoError(t, err)

	hdr = &tar.Header{
		Name:     "link.txt",
		Mode:     0777,
		Typeflag: tar.TypeSymlink,
		Linkname: "target.txt",
	}
	require.NoError(t, tw.WriteHeader(hdr))

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	destDir := t.TempDir()
	_, err = Unpack(&buf, destDir, 1024*1024)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(destDir, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)
}

func TestUnpack_SymlinkEscape(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name:     "escape.txt",
		Mode:     0777,
		Typeflag: tar.TypeSymlink,
		Linkname: "../../etc/passwd",
	}
	require.NoError(t, tw.WriteHeader(hdr))

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	destDir := t.TempDir()
	_, err := Unpack(&buf, destDir, 1024*1024)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

func TestUnpack_AbsoluteSymlink(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name:     "abs.txt",
		Mode:     0777,
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
	}
	require.NoError(t, tw.WriteHeader(hdr))

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	destDir := t.TempDir()
	_, err := Unpack(&buf, destDir, 1024*1024)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchivePath)
}

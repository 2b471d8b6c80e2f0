package buildspec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := []byte(`
build_docker_image:
  base_image: "ubuntu:16.04"
build_image:
  commands:
    - apt-get update
`)

	spec, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, "ubuntu:16.04", spec.BaseImage)
	require.Equal(t, CommandList{"apt-get update"}, spec.Commands)
	require.False(t, spec.Extend)
}

func TestParsePreservesOrder(t *testing.T) {
	// Deliberately unsorted, with a duplicate: the parsed list must
	// come back exactly as written.
	doc := []byte(`
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands:
    - zzz last alphabetically
    - apt-get update
    - apt-get update
    - "true"
`)

	spec, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, CommandList{
		"zzz last alphabetically",
		"apt-get update",
		"apt-get update",
		"true",
	}, spec.Commands)
}

func TestParseExtendForm(t *testing.T) {
	doc := []byte(`
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands:
    $extend:
      - apt-get update
      - apt-get install -y wget
`)

	spec, err := Parse(doc)
	require.NoError(t, err)
	require.True(t, spec.Extend)
	require.Equal(t, CommandList{"apt-get update", "apt-get install -y wget"}, spec.Commands)
}

func TestParseEmptyCommands(t *testing.T) {
	doc := []byte(`
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands: []
`)

	spec, err := Parse(doc)
	require.NoError(t, err)
	require.NotNil(t, spec.Commands)
	require.Len(t, spec.Commands, 0)
}

func TestParseNoCommandsSection(t *testing.T) {
	doc := []byte(`
build_docker_image:
  base_image: ubuntu:16.04
`)

	spec, err := Parse(doc)
	require.NoError(t, err)
	require.Nil(t, spec.Commands)
	require.False(t, spec.Extend)
}

func TestParseUnknownKeysTolerated(t *testing.T) {
	doc := []byte(`
validate_manifest: true
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands:
    - apt-get update
rootfs:
  type: squashfs
`)

	spec, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, "ubuntu:16.04", spec.BaseImage)
	require.Equal(t, CommandList{"apt-get update"}, spec.Commands)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		sentinel error
	}{
		{
			name: "missing base_image",
			doc: `
build_image:
  commands:
    - apt-get update
`,
			sentinel: ErrMissingBaseImage,
		},
		{
			name: "blank base_image",
			doc: `
build_docker_image:
  base_image: "  "
`,
			sentinel: ErrMissingBaseImage,
		},
		{
			name: "invalid base_image reference",
			doc: `
build_docker_image:
  base_image: "UBUNTU::bad??ref"
`,
			sentinel: ErrInvalidBaseImage,
		},
		{
			name: "blank command",
			doc: `
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands:
    - apt-get update
    - "   "
`,
			sentinel: ErrBlankCommand,
		},
		{
			name: "malformed document",
			doc:  "build_docker_image: [unclosed",
		},
		{
			name: "commands is a scalar",
			doc: `
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands: apt-get update
`,
		},
		{
			name: "extend mapping with extra key",
			doc: `
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands:
    $extend:
      - apt-get update
    replace:
      - rm -rf /tmp
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			require.Nil(t, spec)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			if tt.sentinel != nil {
				require.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiln.yaml")
	doc := []byte(`
build_docker_image:
  base_image: ubuntu:16.04
build_image:
  commands:
    - apt-get update
`)
	require.NoError(t, os.WriteFile(path, doc, 0644))

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ubuntu:16.04", spec.BaseImage)
	require.Equal(t, CommandList{"apt-get update"}, spec.Commands)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := Load(path)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, path, perr.Path)
	require.True(t, os.IsNotExist(perr.Err))
}

func TestEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		spec *Spec
	}{
		{
			name: "plain commands",
			spec: &Spec{
				BaseImage: "ubuntu:16.04",
				Commands:  CommandList{"apt-get update", "apt-get install -y wget", "wget -q https://example.com/tool.tar.gz"},
			},
		},
		{
			name: "extend commands",
			spec: &Spec{
				BaseImage: "docker.io/library/alpine:3.18",
				Commands:  CommandList{"apk add --no-cache curl"},
				Extend:    true,
			},
		},
		{
			name: "explicitly empty commands",
			spec: &Spec{
				BaseImage: "ubuntu:16.04",
				Commands:  CommandList{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.spec.Encode()
			require.NoError(t, err)

			parsed, err := Parse(data)
			require.NoError(t, err)
			require.Equal(t, tt.spec, parsed)
		})
	}
}

func TestEncodeOmitsAbsentCommands(t *testing.T) {
	spec := &Spec{BaseImage: "ubuntu:16.04"}

	data, err := spec.Encode()
	require.NoError(t, err)
	require.NotContains(t, string(data), "build_image")

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, spec, parsed)
}

func TestRender(t *testing.T) {
	spec := &Spec{
		BaseImage: "ubuntu:16.04",
		Commands:  CommandList{"apt-get update", "apt-get install -y build-essential"},
	}

	var b strings.Builder
	require.NoError(t, spec.Render(&b))
	require.Equal(t, `FROM ubuntu:16.04

RUN apt-get update
RUN apt-get install -y build-essential
`, b.String())
}

func TestRenderNoCommands(t *testing.T) {
	spec := &Spec{BaseImage: "alpine:3.18"}

	var b strings.Builder
	require.NoError(t, spec.Render(&b))
	require.Equal(t, "FROM alpine:3.18\n", b.String())
}

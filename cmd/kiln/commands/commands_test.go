package commands_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/cmd/kiln/commands"
	"github.com/kilnworks/kiln/lib/builds"
)

const testDoc = `build_docker_image:
  base_image: "ubuntu:16.04"
build_image:
  commands:
    - apt-get update
    - apt-get install -y wget
`

const defaultsDoc = `build_docker_image:
  base_image: "ubuntu:16.04"
build_image:
  commands:
    - apt-get update
`

const extendDoc = `build_docker_image:
  base_image: "ubuntu:16.04"
build_image:
  commands:
    $extend:
      - pip3 install loompy
`

type mockRunner struct {
	buildFunc func(ctx context.Context, opts commands.BuildOptions, logs io.Writer) (*builds.Build, error)
}

func (m *mockRunner) Build(ctx context.Context, opts commands.BuildOptions, logs io.Writer) (*builds.Build, error) {
	if m.buildFunc != nil {
		return m.buildFunc(ctx, opts, logs)
	}
	return &builds.Build{Status: builds.StatusReady}, nil
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, mock *mockRunner, args ...string) (string, error) {
	t.Helper()
	cli := commands.New(mock)
	buf := new(bytes.Buffer)
	cli.SetOutput(buf, buf)
	cli.SetArgs(args)
	err := cli.Execute(context.Background())
	return buf.String(), err
}

func TestBuildCommand(t *testing.T) {
	t.Run("wires flags and streams the log", func(t *testing.T) {
		var captured commands.BuildOptions

		mock := &mockRunner{
			buildFunc: func(_ context.Context, opts commands.BuildOptions, logs io.Writer) (*builds.Build, error) {
				captured = opts
				fmt.Fprintln(logs, "--- step 1/2: apt-get update")
				return &builds.Build{Status: builds.StatusReady, Tag: opts.Tag}, nil
			},
		}

		doc := writeDoc(t, "kiln.yaml", testDoc)
		out, err := execute(t, mock, "build", "-f", doc,
			"--tag", "acme/batch:1", "--engine", "podman", "--push", "registry.local:5000")
		require.NoError(t, err)

		assert.Equal(t, "acme/batch:1", captured.Tag)
		assert.Equal(t, "podman", captured.Engine)
		assert.Equal(t, "registry.local:5000", captured.PushRegistry)
		require.NotNil(t, captured.Spec)
		assert.Equal(t, "ubuntu:16.04", captured.Spec.BaseImage)
		assert.Equal(t, []string{"apt-get update", "apt-get install -y wget"}, []string(captured.Spec.Commands))

		assert.Contains(t, out, "--- step 1/2: apt-get update")
		assert.Contains(t, out, "built acme/batch:1")
	})

	t.Run("merges $extend against the defaults document", func(t *testing.T) {
		var captured commands.BuildOptions
		mock := &mockRunner{
			buildFunc: func(_ context.Context, opts commands.BuildOptions, _ io.Writer) (*builds.Build, error) {
				captured = opts
				return &builds.Build{Status: builds.StatusReady}, nil
			},
		}

		doc := writeDoc(t, "kiln.yaml", extendDoc)
		defaults := writeDoc(t, "base.yaml", defaultsDoc)
		_, err := execute(t, mock, "build", "-f", doc, "--defaults", defaults)
		require.NoError(t, err)

		require.NotNil(t, captured.Spec)
		assert.Equal(t, []string{"apt-get update", "pip3 install loompy"}, []string(captured.Spec.Commands))
	})

	t.Run("failed build surfaces the failing command", func(t *testing.T) {
		errMsg := `command 2 ("apt-get install -y wget") exited with code 100`
		mock := &mockRunner{
			buildFunc: func(_ context.Context, _ commands.BuildOptions, _ io.Writer) (*builds.Build, error) {
				return &builds.Build{Status: builds.StatusFailed, Error: &errMsg}, nil
			},
		}

		doc := writeDoc(t, "kiln.yaml", testDoc)
		_, err := execute(t, mock, "build", "-f", doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command 2")
	})

	t.Run("rejects an invalid document before running", func(t *testing.T) {
		mock := &mockRunner{
			buildFunc: func(_ context.Context, _ commands.BuildOptions, _ io.Writer) (*builds.Build, error) {
				panic("runner should not be called")
			},
		}

		doc := writeDoc(t, "kiln.yaml", "build_image:\n  commands:\n    - apt-get update\n")
		_, err := execute(t, mock, "build", "-f", doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base_image")
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := execute(t, &mockRunner{}, "build", "-f", filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestValidateCommand(t *testing.T) {
	doc := writeDoc(t, "kiln.yaml", testDoc)
	out, err := execute(t, &mockRunner{}, "validate", "-f", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "2 command(s)")

	bad := writeDoc(t, "bad.yaml", "build_image:\n  commands: 42\n")
	_, err = execute(t, &mockRunner{}, "validate", "-f", bad)
	require.Error(t, err)
}

func TestRenderCommand(t *testing.T) {
	doc := writeDoc(t, "kiln.yaml", testDoc)

	t.Run("stdout", func(t *testing.T) {
		out, err := execute(t, &mockRunner{}, "render", "-f", doc)
		require.NoError(t, err)
		assert.Contains(t, out, "FROM ubuntu:16.04")
		assert.Contains(t, out, "RUN apt-get update")
		assert.Contains(t, out, "RUN apt-get install -y wget")
	})

	t.Run("output file", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "Dockerfile")
		_, err := execute(t, &mockRunner{}, "render", "-f", doc, "-o", dest)
		require.NoError(t, err)

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Contains(t, string(data), "FROM ubuntu:16.04")
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, &mockRunner{}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kiln version")
}

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/lib/builds"
	"github.com/kilnworks/kiln/lib/buildspec"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run a provisioning document and commit the result as an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			defaultsPath, _ := cmd.Flags().GetString("defaults")
			tag, _ := cmd.Flags().GetString("tag")
			engineName, _ := cmd.Flags().GetString("engine")
			pushRegistry, _ := cmd.Flags().GetString("push")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			timeout, _ := cmd.Flags().GetInt("timeout")

			spec, err := loadSpec(file, defaultsPath)
			if err != nil {
				return err
			}

			build, err := c.runner.Build(cmd.Context(), BuildOptions{
				Spec:           spec,
				Tag:            tag,
				PushRegistry:   pushRegistry,
				Engine:         engineName,
				DataDir:        dataDir,
				TimeoutSeconds: timeout,
			}, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			switch build.Status {
			case builds.StatusReady:
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", build.Tag)
				if build.PushRef != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "pushed %s\n", build.PushRef)
				}
				return nil
			case builds.StatusCancelled:
				return errors.New("build cancelled")
			default:
				// The recorded error carries the failing command and
				// its position
				if build.Error != nil {
					return errors.New(*build.Error)
				}
				return fmt.Errorf("build ended with status %s", build.Status)
			}
		},
	}

	cmd.Flags().StringP("file", "f", "kiln.yaml", "Provisioning document to build")
	cmd.Flags().String("defaults", "", "Document whose commands serve as the $extend defaults")
	cmd.Flags().StringP("tag", "t", "", "Reference for the committed image")
	cmd.Flags().String("engine", "", "Container engine to use: docker or podman (default auto-detect)")
	cmd.Flags().String("push", "", "Registry to push the committed image to")
	cmd.Flags().String("data-dir", "", "Directory for build records (default user cache dir)")
	cmd.Flags().Int("timeout", 0, "Build timeout in seconds")
	return cmd
}

// loadSpec loads the document and resolves $extend against the
// defaults document when one is given.
func loadSpec(file, defaultsPath string) (*buildspec.Spec, error) {
	overlay, err := buildspec.Load(file)
	if err != nil {
		return nil, err
	}

	var base *buildspec.Spec
	if defaultsPath != "" {
		if base, err = buildspec.Load(defaultsPath); err != nil {
			return nil, err
		}
	}

	spec := buildspec.Merge(base, overlay)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

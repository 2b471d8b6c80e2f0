package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/lib/buildspec"
)

func (c *CLI) newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the Dockerfile equivalent of a provisioning document",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			output, _ := cmd.Flags().GetString("output")

			spec, err := buildspec.Load(file)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return spec.Render(w)
		},
	}
	cmd.Flags().StringP("file", "f", "kiln.yaml", "Provisioning document to render")
	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	return cmd
}

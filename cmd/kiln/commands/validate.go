package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln/lib/buildspec"
)

func (c *CLI) newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a provisioning document",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			spec, err := buildspec.Load(file)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: base %s, %d command(s)\n",
				file, spec.BaseImage, len(spec.Commands))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "kiln.yaml", "Provisioning document to validate")
	return cmd
}

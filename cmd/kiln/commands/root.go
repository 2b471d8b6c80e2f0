// Package commands implements the kiln CLI: one-shot local builds of
// provisioning documents without the daemon.
package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// CLI is the kiln command line interface.
type CLI struct {
	runner  Runner
	rootCmd *cobra.Command
}

// New creates the CLI over the given build runner.
func New(r Runner) *CLI {
	rootCmd := &cobra.Command{
		Use:           "kiln",
		Short:         "Build container images from provisioning documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	c := &CLI{
		runner:  r,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newValidateCmd())
	rootCmd.AddCommand(c.newRenderCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command.
// Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

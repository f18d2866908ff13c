package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avioli/imagemin-glitch/pkg/version"
)

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "imagemin "+version.String())
		},
	}
}

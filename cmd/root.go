package cmd

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/avioli/imagemin-glitch/pkg/environment"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/toolexec"
	"github.com/avioli/imagemin-glitch/pkg/version"
)

// NewRootCommand returns the root command with all subcommands attached.
// Running it without a subcommand serves HTTP.
func NewRootCommand(ctx context.Context, fs afero.Fs, env *environment.Environment, runner toolexec.Runner, logger *logging.Logger) *cobra.Command {
	cobra.EnableCommandSorting = false
	serveCmd := NewServeCommand(ctx, fs, env, runner, logger)

	rootCmd := &cobra.Command{
		Use:   "imagemin",
		Short: "Ephemeral image compression service.",
		Long: `imagemin accepts a JPEG, PNG or GIF upload, shrinks it with jpegtran, pngquant
or gifsicle and keeps the result in memory for a few minutes so it can be
downloaded once.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serveCmd.RunE,
	}
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(NewCompressCommand(ctx, fs, env, runner, logger))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

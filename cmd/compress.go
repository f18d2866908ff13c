package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/avioli/imagemin-glitch/pkg/compress"
	"github.com/avioli/imagemin-glitch/pkg/environment"
	"github.com/avioli/imagemin-glitch/pkg/ingest"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/toolexec"
)

var (
	fileStyle  = lipgloss.NewStyle().Bold(true)
	sizeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	savedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	equalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// NewCompressCommand creates the 'compress' command, which runs the codecs on
// a local file.
func NewCompressCommand(ctx context.Context, fs afero.Fs, env *environment.Environment, runner toolexec.Runner, logger *logging.Logger) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "compress [file]",
		Aliases: []string{"c"},
		Example: "$ imagemin compress photo.png -o photo.min.png",
		Short:   "Compress a local JPEG, PNG or GIF file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			data, err := afero.ReadFile(fs, input)
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}

			mimeType := mimetype.Detect(data).String()
			if !ingest.IsImageType(mimeType) {
				return fmt.Errorf("%s: unsupported file type %s", input, mimeType)
			}

			out, err := newCompressor(fs, env, runner, logger, nil).Compress(ctx, data, mimeType)
			if err != nil {
				return err
			}

			if output == "" {
				output = minifiedName(input)
			}
			if err := afero.WriteFile(fs, output, out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), summary(output, len(data), len(out)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <name>.min<ext>)")
	return cmd
}

func newCompressor(fs afero.Fs, env *environment.Environment, runner toolexec.Runner, logger *logging.Logger, observer compress.Observer) compress.Compressor {
	return compress.New(compress.Options{
		Jpegtran: compress.JpegtranOptions{
			Bin:         env.JpegtranBin,
			Progressive: env.JpegProgressive,
		},
		Pngquant: compress.PngquantOptions{
			Bin:     env.PngquantBin,
			Quality: env.PngQuality,
			Dither:  env.PngDither,
		},
		Gifsicle: compress.GifsicleOptions{
			Bin:               env.GifsicleBin,
			OptimizationLevel: env.GifOptimizationLevel,
			Interlaced:        env.GifInterlaced,
		},
		Concurrency: env.CodecConcurrency,
	}, fs, runner, logger.With("component", "compress"), observer)
}

// minifiedName turns photo.png into photo.min.png.
func minifiedName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".min" + ext
}

func summary(name string, before, after int) string {
	sizes := sizeStyle.Render(fmt.Sprintf("%s -> %s", humanize.Bytes(uint64(before)), humanize.Bytes(uint64(after))))
	var change string
	if after < before {
		saved := 100 * float64(before-after) / float64(before)
		change = savedStyle.Render(fmt.Sprintf("(-%.1f%%)", saved))
	} else {
		change = equalStyle.Render("(unchanged)")
	}
	return fmt.Sprintf("%s  %s  %s", fileStyle.Render(name), sizes, change)
}

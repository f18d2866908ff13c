package compress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/toolexec"
)

// pngquant exit statuses that mean "could not do better", not failure.
const (
	pngquantExitTooLarge   = 98
	pngquantExitLowQuality = 99
)

// ToolCodec runs an external optimizer over a scratch copy of the image.
type ToolCodec struct {
	name        string
	bin         string
	ext         string
	args        func(in, out string) []string
	passthrough map[int]bool // exit codes that keep the input as is
	fs          afero.Fs
	runner      toolexec.Runner
	logger      *logging.Logger
}

// Name implements Codec.
func (c *ToolCodec) Name() string {
	return c.name
}

// Args returns the command line used for the given input and output paths.
func (c *ToolCodec) Args(in, out string) []string {
	return c.args(in, out)
}

// Optimize implements Codec. The input is written to a fresh temp directory,
// the tool writes its output next to it, and the directory is removed after.
func (c *ToolCodec) Optimize(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := afero.TempDir(c.fs, "", "imagemin-"+c.name+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := c.fs.RemoveAll(dir); err != nil {
			c.logger.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}()

	in := filepath.Join(dir, "in"+c.ext)
	out := filepath.Join(dir, "out"+c.ext)
	if err := afero.WriteFile(c.fs, in, data, 0o600); err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}

	_, _, code, err := c.runner.Run(ctx, c.bin, c.args(in, out), dir)
	if err != nil {
		if errors.Is(err, toolexec.ErrNonZeroExit) && c.passthrough[code] {
			c.logger.Debug("codec kept input", "codec", c.name, "code", code)
			return data, nil
		}
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}

	result, err := afero.ReadFile(c.fs, out)
	if err != nil {
		return nil, fmt.Errorf("read %s output: %w", c.name, err)
	}
	return result, nil
}

// JpegtranOptions tunes the lossless JPEG re-encode.
type JpegtranOptions struct {
	Bin         string
	Progressive bool
}

// NewJpegtran returns a lossless JPEG codec backed by jpegtran.
func NewJpegtran(opts JpegtranOptions, fs afero.Fs, runner toolexec.Runner, logger *logging.Logger) *ToolCodec {
	if opts.Bin == "" {
		opts.Bin = "jpegtran"
	}
	return &ToolCodec{
		name: "jpegtran",
		bin:  opts.Bin,
		ext:  ".jpg",
		args: func(in, out string) []string {
			args := []string{"-copy", "none", "-optimize"}
			if opts.Progressive {
				args = append(args, "-progressive")
			}
			return append(args, "-outfile", out, in)
		},
		fs:     fs,
		runner: runner,
		logger: logger,
	}
}

// PngquantOptions tunes the lossy palette reduction.
type PngquantOptions struct {
	Bin     string
	Quality string // min-max, 0-100
	Dither  string // Floyd-Steinberg dithering level, 0-1
}

// NewPngquant returns a lossy PNG codec backed by pngquant.
func NewPngquant(opts PngquantOptions, fs afero.Fs, runner toolexec.Runner, logger *logging.Logger) *ToolCodec {
	if opts.Bin == "" {
		opts.Bin = "pngquant"
	}
	if opts.Quality == "" {
		opts.Quality = "65-80"
	}
	if opts.Dither == "" {
		opts.Dither = "0.5"
	}
	return &ToolCodec{
		name: "pngquant",
		bin:  opts.Bin,
		ext:  ".png",
		args: func(in, out string) []string {
			return []string{"--quality", opts.Quality, "--floyd=" + opts.Dither, "--force", "--output", out, in}
		},
		passthrough: map[int]bool{pngquantExitTooLarge: true, pngquantExitLowQuality: true},
		fs:          fs,
		runner:      runner,
		logger:      logger,
	}
}

// GifsicleOptions tunes GIF palette optimization.
type GifsicleOptions struct {
	Bin               string
	OptimizationLevel int // 1-3
	Interlaced        bool
}

// NewGifsicle returns a GIF codec backed by gifsicle.
func NewGifsicle(opts GifsicleOptions, fs afero.Fs, runner toolexec.Runner, logger *logging.Logger) *ToolCodec {
	if opts.Bin == "" {
		opts.Bin = "gifsicle"
	}
	if opts.OptimizationLevel < 1 || opts.OptimizationLevel > 3 {
		opts.OptimizationLevel = 1
	}
	return &ToolCodec{
		name: "gifsicle",
		bin:  opts.Bin,
		ext:  ".gif",
		args: func(in, out string) []string {
			args := []string{"--no-warnings", "--no-app-extensions", "--optimize=" + strconv.Itoa(opts.OptimizationLevel)}
			if opts.Interlaced {
				args = append(args, "--interlace")
			}
			return append(args, "-o", out, in)
		},
		fs:     fs,
		runner: runner,
		logger: logger,
	}
}

// Options configures the default codec set.
type Options struct {
	Jpegtran    JpegtranOptions
	Pngquant    PngquantOptions
	Gifsicle    GifsicleOptions
	Concurrency int
}

// New builds the standard JPEG/PNG/GIF compressor, bounded to
// opts.Concurrency simultaneous codec runs.
func New(opts Options, fs afero.Fs, runner toolexec.Runner, logger *logging.Logger, observer Observer) Compressor {
	mux := NewMux(logger, observer).
		Handle("image/jpeg", NewJpegtran(opts.Jpegtran, fs, runner, logger)).
		Handle("image/png", NewPngquant(opts.Pngquant, fs, runner, logger)).
		Handle("image/gif", NewGifsicle(opts.Gifsicle, fs, runner, logger))
	return Limit(mux, opts.Concurrency)
}

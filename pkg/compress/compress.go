// Package compress is the boundary to the external image optimizers.
package compress

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/messages"
)

// Compressor turns raw image bytes into optimized bytes of the same type.
// Failures are reported as COMPRESSION_FAILED errors. Callers await the
// result; an invoked compression is never cancelled half way.
type Compressor interface {
	Compress(ctx context.Context, data []byte, mimeType string) ([]byte, error)
}

// CompressorFunc adapts a function to Compressor.
type CompressorFunc func(ctx context.Context, data []byte, mimeType string) ([]byte, error)

// Compress implements Compressor.
func (f CompressorFunc) Compress(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	return f(ctx, data, mimeType)
}

// Codec optimizes a single image format.
type Codec interface {
	Name() string
	Optimize(ctx context.Context, data []byte) ([]byte, error)
}

// Observer records codec runs, typically to metrics.
type Observer interface {
	ObserveCompression(mimeType string, duration time.Duration, in, out int, err error)
}

// Mux dispatches to a codec by MIME type.
type Mux struct {
	codecs   map[string]Codec
	observer Observer
	logger   *logging.Logger
}

// NewMux creates an empty Mux. Register codecs with Handle.
func NewMux(logger *logging.Logger, observer Observer) *Mux {
	return &Mux{codecs: make(map[string]Codec), observer: observer, logger: logger}
}

// Handle registers codec for mimeType, replacing any previous one.
func (m *Mux) Handle(mimeType string, codec Codec) *Mux {
	m.codecs[mimeType] = codec
	return m
}

// Supports reports whether a codec is registered for mimeType.
func (m *Mux) Supports(mimeType string) bool {
	_, ok := m.codecs[mimeType]
	return ok
}

// Compress implements Compressor. If the codec output is not smaller than the
// input, the input is returned unchanged.
func (m *Mux) Compress(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	codec, ok := m.codecs[mimeType]
	if !ok {
		return nil, apperrors.NewCompressionError(mimeType, fmt.Errorf("no codec registered for %q", mimeType))
	}

	logger := m.logger.With("codec", codec.Name(), "mimetype", mimeType)
	start := time.Now()

	var out []byte
	err := logger.TimeOperation(messages.MsgCodecStarted, func() error {
		var err error
		out, err = codec.Optimize(ctx, data)
		return err
	})
	if err == nil && len(out) == 0 {
		err = fmt.Errorf("%s produced no output", codec.Name())
	}

	if m.observer != nil {
		m.observer.ObserveCompression(mimeType, time.Since(start), len(data), len(out), err)
	}
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCompression) {
			return nil, err
		}
		return nil, apperrors.NewCompressionError(mimeType, err)
	}

	if len(out) >= len(data) {
		logger.Debug(messages.MsgCodecKeptOriginal, "in", len(data), "out", len(out))
		return data, nil
	}

	logger.Info(messages.MsgOptimized, "from", len(data), "to", len(out))
	return out, nil
}

// Limit bounds the number of concurrent compressions to n. Waiting for a
// permit honors ctx; once the wrapped compressor is invoked it runs with a
// context detached from ctx's cancellation.
func Limit(c Compressor, n int) Compressor {
	if n <= 0 {
		n = 1
	}
	sem := semaphore.NewWeighted(int64(n))
	return CompressorFunc(func(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, apperrors.NewCompressionError(mimeType, err)
		}
		defer sem.Release(1)

		return c.Compress(context.WithoutCancel(ctx), data, mimeType)
	})
}

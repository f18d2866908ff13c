// Package server is the HTTP front of the upload service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/avioli/imagemin-glitch/pkg/compress"
	"github.com/avioli/imagemin-glitch/pkg/ingest"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/messages"
	"github.com/avioli/imagemin-glitch/pkg/metrics"
	"github.com/avioli/imagemin-glitch/pkg/result"
	"github.com/avioli/imagemin-glitch/pkg/slot"
	"github.com/avioli/imagemin-glitch/templates"
)

// DefaultShutdownTimeout bounds how long Run waits for in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Options wires the server to its collaborators. Slots, Results, Ingestor
// and Compressor are required.
type Options struct {
	Slots      *slot.Registry
	Results    *result.Cache
	Ingestor   *ingest.Ingestor
	Compressor compress.Compressor
	Metrics    *metrics.Metrics

	Fs        afero.Fs
	PublicDir string

	CORSOrigins     []string
	TrustedProxies  []string
	ShutdownTimeout time.Duration

	Logger *logging.Logger
}

// Server serves the upload, result and download pages.
type Server struct {
	slots      *slot.Registry
	results    *result.Cache
	ingestor   *ingest.Ingestor
	compressor compress.Compressor
	metrics    *metrics.Metrics
	public     afero.Fs
	grace      time.Duration
	logger     *logging.Logger
	router     *gin.Engine
}

// New validates opts and builds the router.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Slots == nil:
		return nil, errors.New("server: slot registry is required")
	case opts.Results == nil:
		return nil, errors.New("server: result cache is required")
	case opts.Ingestor == nil:
		return nil, errors.New("server: ingestor is required")
	case opts.Compressor == nil:
		return nil, errors.New("server: compressor is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.PublicDir == "" {
		opts.PublicDir = "public"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	tmpl, err := templates.Parse()
	if err != nil {
		return nil, fmt.Errorf("server: parse templates: %w", err)
	}

	s := &Server{
		slots:      opts.Slots,
		results:    opts.Results,
		ingestor:   opts.Ingestor,
		compressor: opts.Compressor,
		metrics:    opts.Metrics,
		public:     afero.NewReadOnlyFs(afero.NewBasePathFs(opts.Fs, opts.PublicDir)),
		grace:      opts.ShutdownTimeout,
		logger:     opts.Logger,
	}

	router := gin.New()
	router.SetHTMLTemplate(tmpl)
	router.Use(requestLogger(s.logger), recovery(s))

	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  opts.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodHead},
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length", "Content-Disposition", requestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}
	if len(opts.TrustedProxies) > 0 {
		router.ForwardedByClientIP = true
		if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
			return nil, fmt.Errorf("server: trusted proxies: %w", err)
		}
	} else if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}

	s.router = router
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/upload", s.handleUploadForm)
	s.router.POST("/upload/:token", s.handleUpload)
	s.router.GET("/result/:token", s.handleResult)
	s.router.GET("/minified/:token", s.handleMinified)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.NoRoute(s.handleStatic)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr and serves until ctx is cancelled, then drains
// in-flight requests and closes the result cache. The slot sweeper runs for
// the lifetime of the server.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go s.slots.Run(sweepCtx)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info(messages.MsgServerListening, "addr", ln.Addr().String())
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		s.results.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info(messages.MsgServerStopping, "grace", s.grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.results.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

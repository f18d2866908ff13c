package cmd

import (
	"context"
	"net"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/avioli/imagemin-glitch/pkg/environment"
	"github.com/avioli/imagemin-glitch/pkg/ingest"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/metrics"
	"github.com/avioli/imagemin-glitch/pkg/result"
	"github.com/avioli/imagemin-glitch/pkg/server"
	"github.com/avioli/imagemin-glitch/pkg/slot"
	"github.com/avioli/imagemin-glitch/pkg/toolexec"
)

// NewServeCommand creates the 'serve' command.
func NewServeCommand(ctx context.Context, fs afero.Fs, env *environment.Environment, runner toolexec.Runner, logger *logging.Logger) *cobra.Command {
	var host, port string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Example: "$ imagemin serve --port 8080",
		Short:   "Run the upload server",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			srv, err := NewServer(fs, env, runner, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx, net.JoinHostPort(host, port))
		},
	}
	cmd.Flags().StringVar(&host, "host", env.Host, "interface to listen on")
	cmd.Flags().StringVarP(&port, "port", "p", env.Port, "port to listen on")
	return cmd
}

// NewServer wires the slot registry, ingestor, compressor, result cache and
// metrics from env into an HTTP server.
func NewServer(fs afero.Fs, env *environment.Environment, runner toolexec.Runner, logger *logging.Logger) (*server.Server, error) {
	if !env.DebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()
	results := result.NewCache(logger.With("component", "results"),
		result.WithCapacity(env.CacheCapacity),
		result.WithRetention(env.Retention()),
		result.WithObserver(m))
	slots := slot.NewRegistry(results, logger.With("component", "slots"),
		slot.WithTTL(env.SlotTTL()),
		slot.WithObserver(m))
	ingestor := ingest.NewIngestor(ingest.Limits{
		MaxFileSize: env.MaxFileSize(),
		MaxFiles:    1,
		MaxFields:   0,
	}, env.VerifyContent, logger.With("component", "ingest"))

	return server.New(server.Options{
		Slots:           slots,
		Results:         results,
		Ingestor:        ingestor,
		Compressor:      newCompressor(fs, env, runner, logger, m),
		Metrics:         m,
		Fs:              fs,
		PublicDir:       env.PublicDir,
		CORSOrigins:     env.CORSOrigins(),
		TrustedProxies:  env.TrustedProxyList(),
		ShutdownTimeout: env.ShutdownGrace(),
		Logger:          logger.With("component", "http"),
	})
}

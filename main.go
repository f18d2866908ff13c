package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/avioli/imagemin-glitch/cmd"
	"github.com/avioli/imagemin-glitch/pkg/environment"
	"github.com/avioli/imagemin-glitch/pkg/logging"
	"github.com/avioli/imagemin-glitch/pkg/toolexec"
)

func main() {
	// Initialize filesystem and context
	fs := afero.NewOsFs()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.CreateLogger()
	logger := logging.GetLogger()

	env, err := environment.NewEnvironment(fs, nil)
	if err != nil {
		logger.Error("Failed to set up environment", "error", err)
		os.Exit(1)
	}

	setupSignalHandler(cancel, logger)

	rootCmd := cmd.NewRootCommand(ctx, fs, env, toolexec.NewExecRunner(logger), logger)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

// setupSignalHandler cancels ctx on SIGINT or SIGTERM so the server can drain.
// A second signal exits immediately.
func setupSignalHandler(cancelFunc context.CancelFunc, logger *logging.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		logger.Debug("received signal, initiating shutdown", "signal", sig)
		cancelFunc()

		<-sigs
		logger.Warn("second signal, exiting")
		os.Exit(1)
	}()
}

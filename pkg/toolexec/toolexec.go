// Package toolexec runs the external codec binaries. Every process the service
// starts goes through Run.
package toolexec

import (
	"context"
	"errors"
	"fmt"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/avioli/imagemin-glitch/pkg/logging"
)

// ErrNonZeroExit is returned (wrapped in *ExitError) when the command ran but
// exited with a non-zero status.
var ErrNonZeroExit = errors.New("non-zero exit code")

// ExitError carries the exit status and stderr of a failed command.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

func (e *ExitError) Unwrap() error {
	return ErrNonZeroExit
}

// Runner executes a command and returns its output.
type Runner interface {
	Run(ctx context.Context, command string, args []string, workingDir string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner is the Runner backed by go-execute.
type ExecRunner struct {
	Logger *logging.Logger
}

// NewExecRunner returns a Runner that logs through logger.
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{Logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, command string, args []string, workingDir string) (string, string, int, error) {
	return Run(ctx, command, args, workingDir, r.Logger)
}

// Run executes command in the foreground with an optional working directory
// (pass "" for the current one). Output is buffered, never streamed: codec
// tools may write binary data.
func Run(ctx context.Context, command string, args []string, workingDir string, logger *logging.Logger) (string, string, int, error) {
	logger.Debug("executing", "command", command, "args", args, "dir", workingDir)

	task := execute.ExecTask{
		Command:     command,
		Args:        args,
		Cwd:         workingDir,
		StreamStdio: false,
	}

	result, err := task.Execute(ctx)
	if err != nil {
		logger.Error("command execution failed", "command", command, "error", err)
		return result.Stdout, result.Stderr, result.ExitCode, fmt.Errorf("execute %s: %w", command, err)
	}

	if result.ExitCode != 0 {
		logger.Warn("command exited with non-zero code", "command", command, "code", result.ExitCode, "stderr", result.Stderr)
		return result.Stdout, result.Stderr, result.ExitCode, &ExitError{Command: command, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}

	logger.Debug("command executed successfully", "command", command, "code", result.ExitCode)
	return result.Stdout, result.Stderr, result.ExitCode, nil
}

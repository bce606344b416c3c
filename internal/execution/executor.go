package execution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// maxCapturedStderr bounds the stderr kept for error messages
const maxCapturedStderr = 4096

// Command describes one external process invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current environment
	Env   []string
	Stdin io.Reader
	// Stdout receives the process output. When nil the output is captured
	// into Result.Stdout.
	Stdout io.Writer
	// Timeout bounds this invocation on top of the caller's context
	Timeout time.Duration
	// Sensitive hides the arguments from logs entirely
	Sensitive bool
}

// String renders the command line with secrets masked
func (c Command) String() string {
	if c.Sensitive {
		return c.Name + " [arguments hidden]"
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(logging.RedactArgs(c.Args), " "))
}

// Result holds the outcome of a finished command
type Result struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a command ran but exited non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}

// CommandRunner runs external tools. Dump utilities, snapshot commands and
// mega-cmd all go through it so tests can substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
	// LookPath reports whether the named tool is installed
	LookPath(name string) (string, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a runner that logs every invocation at debug level
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExecRunner{logger: logger}
}

// LookPath implements CommandRunner
func (r *ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.NewAppError(errors.ErrorTypeNotFound, fmt.Sprintf("%s is not installed or not in PATH", name), err)
	}
	return path, nil
}

// Run starts the command and waits for it. A non-zero exit returns both the
// result and an *ExitError; a context timeout is classified as a timeout.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	proc.Stdin = cmd.Stdin

	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxCapturedStderr}
	if cmd.Stdout != nil {
		proc.Stdout = cmd.Stdout
	} else {
		proc.Stdout = &stdout
	}
	proc.Stderr = stderr

	start := time.Now()
	r.logger.WithField("command", cmd.String()).Debug("Running external command")
	runErr := proc.Run()

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if proc.ProcessState != nil {
		result.ExitCode = proc.ProcessState.ExitCode()
	}

	if runErr == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, errors.WrapError(ctxErr, fmt.Sprintf("%s did not finish", cmd.Name))
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return result, &ExitError{Command: cmd.Name, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	return result, errors.NewAppError(errors.ErrorTypeUnknown, fmt.Sprintf("failed to run %s", cmd.Name), runErr)
}

// limitedBuffer keeps the first max bytes and silently drops the rest
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrTimeout is returned when a process is killed because its deadline passed.
var ErrTimeout = errors.New("process: timed out")

// reapGracePeriod is how long Run waits for a killed process to be reaped
// before giving up on it.
const reapGracePeriod = 5 * time.Second

// Config holds configuration for a one-shot subprocess runner.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// BaseArgs are prepended to the arguments of every invocation.
	BaseArgs []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// Timeout bounds each invocation. Zero means the caller's context
	// is the only bound.
	Timeout time.Duration
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Result holds the outcome of one subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes one-shot subprocess invocations with bounded lifetimes.
//
// Each Run starts the binary in its own process group so a timed-out
// invocation can be killed together with any children it spawned, and
// always reaps the process before returning. Runner keeps no long-lived
// child; it is safe for concurrent use.
type Runner struct {
	config Config
	logger Logger

	mu       sync.Mutex
	inFlight int
	runs     uint64
	failures uint64
	timeouts uint64
}

// NewRunner creates a runner for the given binary configuration.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Run executes the binary with the configured base arguments followed by
// args, and waits for it to exit.
//
// A non-zero exit status is not an error here; callers inspect
// Result.ExitCode and the captured output. An error is returned when the
// process could not be started, or when it was killed because the
// deadline passed (ErrTimeout). The result is non-nil in the timeout case
// so partial output remains available.
func (r *Runner) Run(ctx context.Context, args ...string) (*Result, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	full := make([]string, 0, len(r.config.BaseArgs)+len(args))
	full = append(full, r.config.BaseArgs...)
	full = append(full, args...)

	cmd := exec.Command(r.config.Binary, full...) //nolint:gosec // Binary path is validated in config.Validate()

	// New process group so the whole tree can be killed on timeout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if r.config.Env != nil {
		cmd.Env = append(os.Environ(), r.config.Env...)
	}
	if r.config.WorkDir != "" {
		cmd.Dir = r.config.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("starting process", "name", r.config.Name, "args", args)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.recordRun(false, false)
		return nil, fmt.Errorf("starting %s: %w", r.config.Name, err)
	}

	r.mu.Lock()
	r.inFlight++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-exitCh:
	case <-ctx.Done():
		timedOut = true
		r.kill(cmd)
		// Reap the killed process so it never lingers as a zombie
		select {
		case waitErr = <-exitCh:
		case <-time.After(reapGracePeriod):
			r.logger.Error("process did not exit after kill",
				"name", r.config.Name, "pid", cmd.Process.Pid)
		}
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, waitErr),
		Duration: time.Since(start),
	}

	if timedOut {
		r.recordRun(true, true)
		r.logger.Warn("process timed out",
			"name", r.config.Name,
			"duration", result.Duration,
		)
		return result, fmt.Errorf("%w after %s", ErrTimeout, result.Duration.Round(time.Millisecond))
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			r.recordRun(false, false)
			return result, fmt.Errorf("waiting for %s: %w", r.config.Name, waitErr)
		}
		// Non-zero exit is reported through the result, not an error
	}

	r.recordRun(result.ExitCode == 0, false)
	r.logger.Debug("process finished",
		"name", r.config.Name,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	)
	return result, nil
}

// kill sends SIGKILL to the entire process group.
// Use negative PID to signal the process group (created via Setpgid).
func (r *Runner) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			r.logger.Warn("failed to kill process group",
				"name", r.config.Name, "pid", pid, "error", err)
		}
		// Fall back to the single process; the group may be gone already
		cmd.Process.Kill() //nolint:errcheck // best effort after group kill failed
	}
}

func (r *Runner) recordRun(success, timedOut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	if !success {
		r.failures++
	}
	if timedOut {
		r.timeouts++
	}
}

// exitCode extracts the exit code from a finished command.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// Stats returns statistics about past invocations.
type Stats struct {
	Name     string `json:"name"`
	InFlight int    `json:"in_flight"`
	Runs     uint64 `json:"runs"`
	Failures uint64 `json:"failures"`
	Timeouts uint64 `json:"timeouts"`
}

// Stats returns current runner statistics.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Name:     r.config.Name,
		InFlight: r.inFlight,
		Runs:     r.runs,
		Failures: r.failures,
		Timeouts: r.timeouts,
	}
}

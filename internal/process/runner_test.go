package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunner_Run(t *testing.T) {
	runner := NewRunner(Config{
		Name:   "echo",
		Binary: "/bin/echo",
	})

	result, err := runner.Run(context.Background(), "hello", "world")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello world" {
		t.Errorf("Stdout = %q, want %q", got, "hello world")
	}
}

func TestRunner_Run_BaseArgs(t *testing.T) {
	runner := NewRunner(Config{
		Name:     "echo",
		Binary:   "/bin/echo",
		BaseArgs: []string{"base"},
	})

	result, err := runner.Run(context.Background(), "extra")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "base extra" {
		t.Errorf("Stdout = %q, want %q", got, "base extra")
	}
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	runner := NewRunner(Config{
		Name:   "false",
		Binary: "/bin/sh",
	})

	result, err := runner.Run(context.Background(), "-c", "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v, non-zero exit must not be an error", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if got := strings.TrimSpace(result.Stderr); got != "oops" {
		t.Errorf("Stderr = %q, want %q", got, "oops")
	}
}

func TestRunner_Run_StartFailure(t *testing.T) {
	runner := NewRunner(Config{
		Name:   "missing",
		Binary: "/nonexistent/binary",
	})

	_, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want start failure")
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	runner := NewRunner(Config{
		Name:    "sleep",
		Binary:  "/bin/sleep",
		Timeout: 100 * time.Millisecond,
	})

	start := time.Now()
	result, err := runner.Run(context.Background(), "30")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	if result == nil {
		t.Fatal("Run() result = nil, want partial result on timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v, process was not killed promptly", elapsed)
	}

	stats := runner.Stats()
	if stats.Timeouts != 1 {
		t.Errorf("Stats().Timeouts = %d, want 1", stats.Timeouts)
	}
}

func TestRunner_Run_ContextCancelled(t *testing.T) {
	runner := NewRunner(Config{
		Name:   "sleep",
		Binary: "/bin/sleep",
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := runner.Run(ctx, "30")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestRunner_Stats(t *testing.T) {
	runner := NewRunner(Config{
		Name:   "sh",
		Binary: "/bin/sh",
	})
	ctx := context.Background()

	if _, err := runner.Run(ctx, "-c", "true"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := runner.Run(ctx, "-c", "exit 1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := runner.Stats()
	if stats.Runs != 2 {
		t.Errorf("Runs = %d, want 2", stats.Runs)
	}
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
	if stats.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", stats.InFlight)
	}
}

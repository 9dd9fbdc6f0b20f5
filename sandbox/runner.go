// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Result is the outcome of one command attempt.
type Result struct {
	// Command is the exact command line that was executed.
	Command string

	// ExitCode is nil when the command timed out.
	ExitCode *int

	// Stdout and Stderr are captured byte-for-byte as produced, each
	// independently capped to the first MaxCapturedLines lines.
	Stdout string
	Stderr string

	// Duration is wall-clock time, except on timeout, where it equals
	// the configured timeout exactly.
	Duration time.Duration

	TimedOut bool
}

// Runner executes exactly one command per call inside a sandbox under a
// hard timeout. No retry logic exists at this layer or any caller's.
type Runner struct {
	executor Executor
	logger   *slog.Logger
}

// NewRunner creates a Runner over the given executor.
func NewRunner(executor Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{executor: executor, logger: logger.With("component", "runner")}
}

// Run executes the command once and returns the captured result. A
// timeout produces a Result with TimedOut set, a nil exit code, and
// Duration equal to the configured timeout — not the measured overrun.
// Non-zero exits are not errors here; Validate classifies them.
func (r *Runner) Run(ctx context.Context, handle Handle, command string, timeout time.Duration) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Info("running command", "command", command, "timeout", timeout)
	startTime := time.Now()
	raw, err := r.executor.Exec(runCtx, handle, command)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{
				Command:  command,
				Stdout:   capLines(raw.Stdout, MaxCapturedLines),
				Stderr:   capLines(raw.Stderr, MaxCapturedLines),
				Duration: timeout,
				TimedOut: true,
			}, nil
		}
		return Result{}, err
	}

	exitCode := raw.ExitCode
	return Result{
		Command:  command,
		ExitCode: &exitCode,
		Stdout:   capLines(raw.Stdout, MaxCapturedLines),
		Stderr:   capLines(raw.Stderr, MaxCapturedLines),
		Duration: time.Since(startTime),
	}, nil
}

// Validate raises the result's failure as a typed error: a
// *CommandTimeoutError if the command timed out, a *CommandFailureError
// if it exited non-zero. A clean result is a no-op.
func (r *Runner) Validate(result Result) error {
	if result.TimedOut {
		return &CommandTimeoutError{
			Command: result.Command,
			Timeout: result.Duration,
			Stderr:  result.Stderr,
		}
	}
	if result.ExitCode != nil && *result.ExitCode != 0 {
		return &CommandFailureError{
			Command:  result.Command,
			ExitCode: *result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return nil
}

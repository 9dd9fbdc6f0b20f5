// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// scriptedExecutor is an Executor whose Exec outcomes are scripted per
// call. It counts attempts so tests can assert the single-attempt
// contract.
type scriptedExecutor struct {
	execCalls  int
	execResult ExecResult
	execErr    error
	blockExec  bool // block until ctx expires, simulating a hung command

	detachedCommands []string
	terminated       int
}

func (s *scriptedExecutor) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	return Handle("sandbox-1"), nil
}

func (s *scriptedExecutor) Exec(ctx context.Context, handle Handle, command string) (ExecResult, error) {
	s.execCalls++
	if s.blockExec {
		<-ctx.Done()
		return s.execResult, ctx.Err()
	}
	return s.execResult, s.execErr
}

func (s *scriptedExecutor) ExecDetached(ctx context.Context, handle Handle, command string) error {
	s.detachedCommands = append(s.detachedCommands, command)
	return nil
}

func (s *scriptedExecutor) IsRunning(ctx context.Context, handle Handle) bool { return true }

func (s *scriptedExecutor) Status(ctx context.Context, handle Handle) State { return StateRunning }

func (s *scriptedExecutor) ForceTerminate(ctx context.Context, handle Handle) error {
	s.terminated++
	return nil
}

func testRunner(executor Executor) *Runner {
	return NewRunner(executor, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunSuccess(t *testing.T) {
	executor := &scriptedExecutor{execResult: ExecResult{ExitCode: 0, Stdout: "ok\n"}}
	runner := testRunner(executor)

	result, err := runner.Run(context.Background(), "sandbox-1", "npm ci", time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if result.Stdout != "ok\n" {
		t.Errorf("Stdout = %q", result.Stdout)
	}
	if err := runner.Validate(result); err != nil {
		t.Errorf("Validate on clean result = %v, want nil", err)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	executor := &scriptedExecutor{execResult: ExecResult{ExitCode: 1, Stdout: "out", Stderr: "boom"}}
	runner := testRunner(executor)

	result, err := runner.Run(context.Background(), "sandbox-1", "npm run build", time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode == nil || *result.ExitCode != 1 {
		t.Fatalf("ExitCode = %v, want 1", result.ExitCode)
	}

	var failure *CommandFailureError
	if err := runner.Validate(result); !errors.As(err, &failure) {
		t.Fatalf("Validate = %v, want CommandFailureError", err)
	}
	if failure.Stdout != "out" || failure.Stderr != "boom" {
		t.Errorf("failure output = %q/%q, want verbatim capture", failure.Stdout, failure.Stderr)
	}
}

func TestRunTimeout(t *testing.T) {
	executor := &scriptedExecutor{
		blockExec:  true,
		execResult: ExecResult{Stderr: "partial stderr before kill"},
	}
	runner := testRunner(executor)

	timeout := 50 * time.Millisecond
	result, err := runner.Run(context.Background(), "sandbox-1", "npm run build", timeout)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if result.ExitCode != nil {
		t.Errorf("ExitCode = %d, want nil", *result.ExitCode)
	}
	// Reported duration is the configured timeout, not measured overrun.
	if result.Duration != timeout {
		t.Errorf("Duration = %s, want exactly %s", result.Duration, timeout)
	}

	var timedOut *CommandTimeoutError
	if err := runner.Validate(result); !errors.As(err, &timedOut) {
		t.Fatalf("Validate = %v, want CommandTimeoutError", err)
	}
	if timedOut.Stderr != "partial stderr before kill" {
		t.Errorf("timeout stderr = %q, want captured partial output", timedOut.Stderr)
	}
	if executor.execCalls != 1 {
		t.Errorf("Exec attempted %d times, want exactly 1", executor.execCalls)
	}
}

func TestRunSingleAttemptOnFailure(t *testing.T) {
	executor := &scriptedExecutor{execErr: fmt.Errorf("exec transport broke")}
	runner := testRunner(executor)

	if _, err := runner.Run(context.Background(), "sandbox-1", "npm ci", time.Minute); err == nil {
		t.Fatal("Run = nil error, want transport error")
	}
	if executor.execCalls != 1 {
		t.Errorf("Exec attempted %d times, want exactly 1", executor.execCalls)
	}
}

func TestRunCapsStreams(t *testing.T) {
	var out strings.Builder
	for i := range MaxCapturedLines + 250 {
		fmt.Fprintf(&out, "line %d\n", i)
	}
	executor := &scriptedExecutor{execResult: ExecResult{ExitCode: 0, Stdout: out.String()}}
	runner := testRunner(executor)

	result, err := runner.Run(context.Background(), "sandbox-1", "npm ci", time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(result.Stdout, "[output truncated: 250 lines omitted]\n") {
		t.Errorf("Stdout missing truncation marker, tail = %q", result.Stdout[len(result.Stdout)-80:])
	}
	if got := strings.Count(result.Stdout, "\n"); got != MaxCapturedLines+1 {
		t.Errorf("captured %d lines, want %d plus marker", got, MaxCapturedLines)
	}
}

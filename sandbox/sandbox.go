// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox manages isolated execution of preview applications.
//
// The Executor interface is the only surface the orchestrator sees:
// launch a sandbox over a read-only workspace, execute commands into it,
// query its state, and force-terminate it. The isolation technology
// (containers, micro-VMs, OS jails) lives entirely behind this interface;
// the Docker Engine backend in this package is one implementation.
//
// The Runner layered on top executes exactly one command per call under a
// hard timeout, captures output with per-stream line caps, and never
// retries.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Handle identifies a launched sandbox. Opaque to callers; stale handles
// are safe to query and terminate.
type Handle string

// State is a best-effort view of a sandbox's condition.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateKilled  State = "killed"
	// StateUnknown is the safe default when the handle no longer
	// resolves.
	StateUnknown State = "unknown"
)

// LaunchSpec describes the sandbox to create for one session.
type LaunchSpec struct {
	// SessionID names the sandbox for audit and cleanup.
	SessionID string

	// WorkspacePath is the assembled application on the host. It is
	// mounted read-only; the sandbox is structurally unable to mutate it.
	WorkspacePath string

	// HostPort is the host port the sandbox's service port is published
	// to, 1:1.
	HostPort int

	// ServicePort is the in-sandbox port the application serves on.
	ServicePort int
}

// ExecResult is the raw outcome of one command execution inside a
// sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor launches and controls sandboxes.
type Executor interface {
	// Launch creates and starts a sandbox per the LaunchSpec. Fails if the
	// workspace path does not exist. The sandbox stays alive via a no-op
	// foreground process so commands can be executed into it.
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)

	// Exec runs one command in the sandbox and waits for it, honoring
	// ctx's deadline. On deadline expiry it returns whatever output was
	// captured alongside ctx's error.
	Exec(ctx context.Context, handle Handle, command string) (ExecResult, error)

	// ExecDetached starts a command in the sandbox without awaiting its
	// exit. Used for long-lived service processes.
	ExecDetached(ctx context.Context, handle Handle, command string) error

	// IsRunning reports whether the sandbox is alive. Best-effort: a
	// stale handle reports false, never an error.
	IsRunning(ctx context.Context, handle Handle) bool

	// Status returns the sandbox's state. Best-effort: a stale handle
	// reports StateUnknown.
	Status(ctx context.Context, handle Handle) State

	// ForceTerminate sends a graceful stop, waits up to the grace
	// period, then kills. Idempotent: terminating an already-gone
	// sandbox is a no-op.
	ForceTerminate(ctx context.Context, handle Handle) error
}

// CommandTimeoutError reports a command that exceeded its hard timeout.
// Stderr is the captured output up to the kill, verbatim.
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
	Stderr  string
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// CommandFailureError reports a command that exited non-zero. Output is
// preserved verbatim for the audit record.
type CommandFailureError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandFailureError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

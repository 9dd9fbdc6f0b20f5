// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/previewd/previewd/lib/lifecycle"
)

// FailureStage classifies where a failed session came apart.
type FailureStage string

const (
	StageInstall FailureStage = "install"
	StageBuild   FailureStage = "build"
	StageStart   FailureStage = "start"
	StageTimeout FailureStage = "timeout"
	StageCrash   FailureStage = "crash"
)

// Phase names for command execution records.
const (
	PhaseInstall = "install"
	PhaseBuild   = "build"
	PhaseStart   = "start"
)

// CommandRecord captures one phase command's execution, verbatim.
// Immutable once attached to a session.
type CommandRecord struct {
	// Phase is install, build, or start.
	Phase string `cbor:"phase" json:"phase"`

	// Command is the exact command line that was executed.
	Command string `cbor:"command" json:"command"`

	// ExitCode is nil when the command timed out.
	ExitCode *int `cbor:"exit_code" json:"exit_code"`

	// Stdout and Stderr are captured byte-for-byte, each capped to a
	// fixed line count with a synthetic truncation marker if exceeded.
	Stdout string `cbor:"stdout" json:"stdout"`
	Stderr string `cbor:"stderr" json:"stderr"`

	Duration time.Duration `cbor:"duration" json:"duration"`
	TimedOut bool          `cbor:"timed_out" json:"timed_out"`
}

// Session is the append-only audit record of one preview attempt. Owned
// OS resources (container, port, timer) are released at the terminal
// transition, but the record itself is never deleted.
type Session struct {
	// ID is the opaque session identity.
	ID string `cbor:"id" json:"id"`

	// RequestID is the external request this session previews.
	RequestID string `cbor:"request_id" json:"request_id"`

	Framework        string `cbor:"framework" json:"framework"`
	FrameworkVersion string `cbor:"framework_version" json:"framework_version"`

	// ManifestHash references the upstream-approved assembly description.
	ManifestHash string `cbor:"manifest_hash" json:"manifest_hash"`

	// WorkspaceHash is the deterministic content hash of the input
	// workspace, computed before the pipeline starts.
	WorkspaceHash string `cbor:"workspace_hash" json:"workspace_hash"`

	Status lifecycle.Status `cbor:"status" json:"status"`

	// ContainerID is empty until the sandbox is launched.
	ContainerID string `cbor:"container_id" json:"container_id"`

	// Port is 0 until allocated; PreviewURL derives from it.
	Port       int    `cbor:"port" json:"port"`
	PreviewURL string `cbor:"preview_url" json:"preview_url"`

	StartedAt    time.Time  `cbor:"started_at" json:"started_at"`
	RunningAt    *time.Time `cbor:"running_at" json:"running_at"`
	TerminatedAt *time.Time `cbor:"terminated_at" json:"terminated_at"`

	// FailureStage and FailureOutput are set exactly once, at the FAILED
	// transition. FailureOutput is raw captured text, never summarized.
	FailureStage  FailureStage `cbor:"failure_stage" json:"failure_stage"`
	FailureOutput string       `cbor:"failure_output" json:"failure_output"`

	// Commands holds one record per executed phase, in execution order.
	Commands []CommandRecord `cbor:"commands" json:"commands"`

	// SessionHash is computed exactly once, after the terminal
	// transition, over the deterministic field subset. Never recomputed.
	SessionHash string `cbor:"session_hash" json:"session_hash"`
}

// Clone returns a deep copy safe to hand to readers while the
// orchestrator keeps mutating its own copy.
func (s *Session) Clone() *Session {
	clone := *s
	if s.RunningAt != nil {
		t := *s.RunningAt
		clone.RunningAt = &t
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		clone.TerminatedAt = &t
	}
	clone.Commands = make([]CommandRecord, len(s.Commands))
	copy(clone.Commands, s.Commands)
	for i, record := range s.Commands {
		if record.ExitCode != nil {
			code := *record.ExitCode
			clone.Commands[i].ExitCode = &code
		}
	}
	return &clone
}

// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle is the sole authority on legal preview-session status
// transitions. The orchestrator consults it — never assumes it — before
// every session mutation, and every legal transition is logged for audit.
//
// The transition table is strict no-backtracking: same-state no-ops are
// illegal, and no transition leaves a terminal status. An illegal
// transition surfacing at runtime is an integration bug, not a recoverable
// condition.
package lifecycle

import (
	"fmt"
	"log/slog"
)

// Status is a preview session's lifecycle status.
type Status string

const (
	// Ready means the session record exists and the pipeline has not
	// started executing.
	Ready Status = "READY"
	// Starting means the container is up and the install phase is running.
	Starting Status = "STARTING"
	// Building means install succeeded and the build phase is running.
	Building Status = "BUILDING"
	// Running means the service answered the readiness probe and is
	// serving until TTL or explicit stop.
	Running Status = "RUNNING"
	// Failed is terminal: some phase failed and raw output was preserved.
	Failed Status = "FAILED"
	// Terminated is terminal: the session was stopped deliberately
	// (explicit stop or TTL expiry).
	Terminated Status = "TERMINATED"
)

// legal maps each status to the set of statuses it may transition to.
// Terminal statuses map to nothing.
var legal = map[Status]map[Status]bool{
	Ready:      {Starting: true, Failed: true},
	Starting:   {Building: true, Failed: true},
	Building:   {Running: true, Failed: true},
	Running:    {Terminated: true, Failed: true},
	Failed:     {},
	Terminated: {},
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status Status) bool {
	return status == Failed || status == Terminated
}

// Valid reports whether the status is one of the six defined values.
func Valid(status Status) bool {
	_, ok := legal[status]
	return ok
}

// IllegalTransitionError reports an attempt to perform a transition that
// is not in the table, including same-state no-ops and any attempt to
// leave a terminal status.
type IllegalTransitionError struct {
	SessionID string
	From      Status
	To        Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for session %s", e.From, e.To, e.SessionID)
}

// TerminalStateError reports a mutating operation attempted against a
// session that already reached a terminal status.
type TerminalStateError struct {
	Status Status
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("session is terminal (%s)", e.Status)
}

// Machine validates and records transitions. One Machine serves all
// sessions; it holds no per-session state.
type Machine struct {
	logger *slog.Logger
}

// NewMachine creates a Machine that logs legal transitions to the given
// logger.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger.With("component", "lifecycle")}
}

// Transition validates from -> to and logs it. Returns
// *IllegalTransitionError for every pair not in the table.
func (m *Machine) Transition(sessionID string, from, to Status) error {
	if !legal[from][to] {
		return &IllegalTransitionError{SessionID: sessionID, From: from, To: to}
	}
	m.logger.Info("session transition",
		"session_id", sessionID,
		"from", string(from),
		"to", string(to),
	)
	return nil
}

// AssertNotTerminal returns *TerminalStateError if the status is FAILED or
// TERMINATED. Called before any mutating operation.
func (m *Machine) AssertNotTerminal(status Status) error {
	if IsTerminal(status) {
		return &TerminalStateError{Status: status}
	}
	return nil
}

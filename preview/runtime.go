// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package preview orchestrates preview sessions: one end-to-end attempt
// to run an assembled application in isolation and record the outcome.
//
// Each session is executed by one goroutine; the session record is the
// only shared mutable state, serialized by a per-session mutex. The
// lifecycle state machine arbitrates every mutation, so an explicit
// termination racing the in-flight pipeline resolves to whichever caller
// performs the first legal transition — the loser's attempt becomes a
// safe no-op. Phases never retry; a failed phase ends the session.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/previewd/previewd/lib/digest"
	"github.com/previewd/previewd/lib/frameworks"
	"github.com/previewd/previewd/lib/lifecycle"
	"github.com/previewd/previewd/lib/ports"
	"github.com/previewd/previewd/lib/store"
	"github.com/previewd/previewd/sandbox"
)

// Config holds the hard ceilings for one runtime. All are fail-fast
// limits with no backoff or retry; exceeding any one is a terminal
// failure scoped to that session alone.
type Config struct {
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
	// ReadinessTimeout bounds the probe loop after the service starts.
	ReadinessTimeout time.Duration
	ProbeInterval    time.Duration
	// TTL is the hard maximum lifetime of a RUNNING session. One-shot,
	// no renewal.
	TTL time.Duration
}

// DefaultConfig returns the standard ceilings.
func DefaultConfig() Config {
	return Config{
		InstallTimeout:   120 * time.Second,
		BuildTimeout:     300 * time.Second,
		ReadinessTimeout: 60 * time.Second,
		ProbeInterval:    2 * time.Second,
		TTL:              30 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.InstallTimeout == 0 {
		c.InstallTimeout = defaults.InstallTimeout
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = defaults.BuildTimeout
	}
	if c.ReadinessTimeout == 0 {
		c.ReadinessTimeout = defaults.ReadinessTimeout
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = defaults.ProbeInterval
	}
	if c.TTL == 0 {
		c.TTL = defaults.TTL
	}
}

// activeSession is the runtime's in-memory ownership of one session's
// resources: container handle, TTL timer, and the mutable record. All
// access goes through mu.
type activeSession struct {
	mu      sync.Mutex
	session *store.Session
	handle  sandbox.Handle
	ttl     *time.Timer

	// portHeld and the terminal bookkeeping make teardown idempotent:
	// a second TerminatePreview finds nothing left to do.
	portHeld bool
	phase    string // phase currently executing, for failure classification

	// closed is set by an explicit termination that arrives before the
	// session reaches a status with a TERMINATED edge. The pipeline
	// checks it at every step and converts it into its own terminal
	// transition.
	closed bool
}

// errSessionClosed aborts the pipeline quietly when a concurrent
// termination won the race for a terminal transition.
var errSessionClosed = fmt.Errorf("session closed concurrently")

// errSandboxRevoked finalizes a session whose sandbox was torn down by
// an explicit termination before RUNNING was reached. The transition
// table has no TERMINATED edge from the pipeline states, so the pipeline
// converts the revocation into its FAILED transition, preserving the
// stop as the raw failure output.
var errSandboxRevoked = fmt.Errorf("sandbox revoked by explicit termination")

// Runtime composes the port allocator, sandbox executor, command runner,
// state machine, and record store into preview session lifecycles.
// Registries are injected, never process-global, so independent runtimes
// coexist.
type Runtime struct {
	config   Config
	gate     Gate
	ports    *ports.Allocator
	executor sandbox.Executor
	runner   *sandbox.Runner
	machine  *lifecycle.Machine
	store    store.Store
	logger   *slog.Logger
	probe    *http.Client

	mu     sync.Mutex
	active map[string]*activeSession
}

// Options bundles the runtime's collaborators.
type Options struct {
	Config   Config
	Gate     Gate
	Ports    *ports.Allocator
	Executor sandbox.Executor
	Store    store.Store
	Logger   *slog.Logger

	// ProbeClient overrides the readiness probe's HTTP client.
	ProbeClient *http.Client
}

// NewRuntime creates a Runtime.
func NewRuntime(options Options) (*Runtime, error) {
	if options.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if options.Ports == nil {
		return nil, fmt.Errorf("port allocator is required")
	}
	if options.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	probe := options.ProbeClient
	if probe == nil {
		probe = &http.Client{Timeout: 2 * time.Second}
	}
	config := options.Config
	config.applyDefaults()

	return &Runtime{
		config:   config,
		gate:     options.Gate,
		ports:    options.Ports,
		executor: options.Executor,
		runner:   sandbox.NewRunner(options.Executor, logger),
		machine:  lifecycle.NewMachine(logger),
		store:    options.Store,
		logger:   logger.With("component", "preview"),
		probe:    probe,
		active:   make(map[string]*activeSession),
	}, nil
}

// StartPreview validates preconditions, creates the session record in
// READY, schedules the execution pipeline, and returns the session id
// immediately. Precondition and port-allocation failures propagate to
// the caller synchronously — no session record exists for them.
func (r *Runtime) StartPreview(ctx context.Context, requestID string) (string, error) {
	assembly, err := r.gate.Check(ctx, requestID)
	if err != nil {
		return "", err
	}

	profile, err := frameworks.Resolve(assembly.Framework)
	if err != nil {
		return "", &PreconditionError{
			RequestID:  requestID,
			Violations: []string{err.Error()},
		}
	}

	workspaceHash, err := digest.DirectoryHash(assembly.WorkspacePath)
	if err != nil {
		return "", fmt.Errorf("hashing workspace: %w", err)
	}

	port, err := r.ports.Allocate()
	if err != nil {
		return "", err
	}

	session := &store.Session{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		Framework:        assembly.Framework,
		FrameworkVersion: assembly.FrameworkVersion,
		ManifestHash:     assembly.ManifestHash,
		WorkspaceHash:    workspaceHash,
		Status:           lifecycle.Ready,
		Port:             port,
		PreviewURL:       fmt.Sprintf("http://127.0.0.1:%d", port),
		StartedAt:        time.Now().UTC(),
	}
	if err := r.store.Create(session); err != nil {
		r.ports.Release(port)
		return "", fmt.Errorf("persisting session: %w", err)
	}

	active := &activeSession{session: session, portHeld: true}
	r.mu.Lock()
	r.active[session.ID] = active
	r.mu.Unlock()

	r.logger.Info("preview scheduled",
		"session_id", session.ID,
		"request_id", requestID,
		"framework", assembly.Framework,
		"port", port,
	)

	go r.execute(active, assembly, profile)
	return session.ID, nil
}

// GetStatus returns the session's current snapshot. Pure read.
func (r *Runtime) GetStatus(sessionID string) (Snapshot, error) {
	session, err := r.store.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		SessionID:     session.ID,
		Status:        session.Status,
		PreviewURL:    session.PreviewURL,
		FailureStage:  session.FailureStage,
		FailureOutput: session.FailureOutput,
	}, nil
}

// execute runs the session pipeline and converts any failure, exactly
// once, into a FAILED transition plus teardown.
func (r *Runtime) execute(active *activeSession, assembly Assembly, profile frameworks.Profile) {
	ctx := context.Background()
	if err := r.pipeline(ctx, active, assembly, profile); err != nil {
		if err == errSessionClosed {
			// A concurrent termination already owns teardown.
			return
		}
		r.failSession(ctx, active, err)
	}
}

// pipeline is the strictly sequential install → build → start flow.
// Every step is guarded by the state machine; each phase depends on the
// filesystem state left by the previous one and is never parallelized.
func (r *Runtime) pipeline(ctx context.Context, active *activeSession, assembly Assembly, profile frameworks.Profile) error {
	sessionID, port := active.session.ID, active.session.Port

	if err := r.transition(active, lifecycle.Starting); err != nil {
		return err
	}

	handle, err := r.executor.Launch(ctx, sandbox.LaunchSpec{
		SessionID:     sessionID,
		WorkspacePath: assembly.WorkspacePath,
		HostPort:      port,
		ServicePort:   profile.ServicePort,
	})
	if err != nil {
		return fmt.Errorf("launching sandbox: %w", err)
	}

	active.mu.Lock()
	if active.closed {
		// Termination won the race while the sandbox was coming up.
		active.mu.Unlock()
		if err := r.executor.ForceTerminate(ctx, handle); err != nil {
			r.logger.Warn("sandbox termination failed", "session_id", sessionID, "error", err)
		}
		return errSandboxRevoked
	}
	active.handle = handle
	active.session.ContainerID = string(handle)
	active.ttl = time.AfterFunc(r.config.TTL, func() {
		r.TerminatePreview(context.Background(), sessionID, "TTL_EXPIRED")
	})
	r.persist(active.session)
	active.mu.Unlock()

	if err := r.runPhase(ctx, active, store.PhaseInstall, profile.InstallCommand, r.config.InstallTimeout); err != nil {
		return err
	}

	if err := r.transition(active, lifecycle.Building); err != nil {
		return err
	}
	if err := r.runPhase(ctx, active, store.PhaseBuild, profile.BuildCommand, r.config.BuildTimeout); err != nil {
		return err
	}

	if err := r.transition(active, lifecycle.Running); err != nil {
		return err
	}
	active.mu.Lock()
	now := time.Now().UTC()
	active.session.RunningAt = &now
	active.phase = store.PhaseStart
	r.persist(active.session)
	previewURL := active.session.PreviewURL
	active.mu.Unlock()

	// The service is launched fire-and-forget: its natural exit is never
	// awaited. Only the readiness probe is awaited.
	if err := r.executor.ExecDetached(ctx, handle, profile.StartCommand); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	if err := awaitReady(ctx, r.probe, previewURL, r.config.ProbeInterval, r.config.ReadinessTimeout); err != nil {
		return err
	}

	r.logger.Info("preview ready", "session_id", sessionID, "url", previewURL)
	return nil
}

// runPhase executes one phase command, persists its record verbatim, and
// validates the result. Exactly one attempt.
func (r *Runtime) runPhase(ctx context.Context, active *activeSession, phase, command string, timeout time.Duration) error {
	active.mu.Lock()
	if lifecycle.IsTerminal(active.session.Status) {
		active.mu.Unlock()
		return errSessionClosed
	}
	if active.closed {
		active.mu.Unlock()
		return errSandboxRevoked
	}
	active.phase = phase
	handle := active.handle
	active.mu.Unlock()

	result, err := r.runner.Run(ctx, handle, command, timeout)
	if err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}

	record := store.CommandRecord{
		Phase:    phase,
		Command:  result.Command,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Duration: result.Duration,
		TimedOut: result.TimedOut,
	}
	active.mu.Lock()
	active.session.Commands = append(active.session.Commands, record)
	r.persist(active.session)
	active.mu.Unlock()

	return r.runner.Validate(result)
}

// transition performs one state-machine-guarded status change. Returns
// errSessionClosed if a concurrent termination already made the session
// terminal.
func (r *Runtime) transition(active *activeSession, to lifecycle.Status) error {
	active.mu.Lock()
	defer active.mu.Unlock()

	if lifecycle.IsTerminal(active.session.Status) {
		return errSessionClosed
	}
	if active.closed {
		return errSandboxRevoked
	}
	if err := r.machine.Transition(active.session.ID, active.session.Status, to); err != nil {
		// An illegal transition from a live pipeline is an integration
		// bug; it must surface, never be swallowed.
		r.logger.Error("illegal transition attempted", "error", err)
		return err
	}
	active.session.Status = to
	r.persist(active.session)
	return nil
}

// failSession converts a pipeline error into the terminal FAILED state
// with a classified stage and the raw output verbatim, then tears the
// session down. This is the single catch point for the whole pipeline.
func (r *Runtime) failSession(ctx context.Context, active *activeSession, pipelineErr error) {
	active.mu.Lock()
	if lifecycle.IsTerminal(active.session.Status) {
		// Lost the race to an explicit termination; nothing to record.
		active.mu.Unlock()
		return
	}
	stage, output := classifyFailure(pipelineErr, active.phase)
	if err := r.machine.Transition(active.session.ID, active.session.Status, lifecycle.Failed); err != nil {
		r.logger.Error("illegal transition attempted", "error", err)
		active.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	active.session.Status = lifecycle.Failed
	active.session.FailureStage = stage
	active.session.FailureOutput = output
	active.session.TerminatedAt = &now
	r.persist(active.session)
	active.mu.Unlock()

	r.logger.Warn("preview failed",
		"session_id", active.session.ID,
		"stage", string(stage),
		"error", pipelineErr,
	)
	r.TerminatePreview(ctx, active.session.ID, "PIPELINE_FAILED")
}

// TerminatePreview tears a session down: cancel the TTL timer, force-
// terminate the container, release the port, transition to TERMINATED if
// not already terminal, and compute the final session hash exactly once.
// Safe under repeated and concurrent invocation — a second call finds
// nothing left to do.
func (r *Runtime) TerminatePreview(ctx context.Context, sessionID, reason string) error {
	r.mu.Lock()
	active := r.active[sessionID]
	r.mu.Unlock()
	if active == nil {
		// Unknown id or a session from a previous process: report
		// not-found to the caller, no-op if the record is already final.
		if _, err := r.store.Get(sessionID); err != nil {
			return err
		}
		return nil
	}

	active.mu.Lock()
	defer active.mu.Unlock()

	if active.ttl != nil {
		active.ttl.Stop()
		active.ttl = nil
	}
	if active.handle != "" {
		if err := r.executor.ForceTerminate(ctx, active.handle); err != nil {
			r.logger.Warn("sandbox termination failed", "session_id", sessionID, "error", err)
		}
		active.handle = ""
	}
	if active.portHeld {
		r.ports.Release(active.session.Port)
		active.portHeld = false
	}

	if !lifecycle.IsTerminal(active.session.Status) {
		if err := r.machine.Transition(sessionID, active.session.Status, lifecycle.Terminated); err != nil {
			// The table has no TERMINATED edge before RUNNING. The
			// sandbox is already gone, so the in-flight pipeline will
			// observe the revocation and drive its own terminal
			// transition; this call's job ends at resource release.
			active.closed = true
			r.logger.Info("preview teardown before RUNNING",
				"session_id", sessionID,
				"status", string(active.session.Status),
				"reason", reason,
			)
			r.persist(active.session)
			return nil
		}
		now := time.Now().UTC()
		active.session.Status = lifecycle.Terminated
		active.session.TerminatedAt = &now
		r.logger.Info("preview terminated", "session_id", sessionID, "reason", reason)
	}

	if active.session.SessionHash == "" {
		hash, err := digest.SessionHash(digest.SessionFields{
			RequestID:        active.session.RequestID,
			Framework:        active.session.Framework,
			FrameworkVersion: active.session.FrameworkVersion,
			ManifestHash:     active.session.ManifestHash,
			WorkspaceHash:    active.session.WorkspaceHash,
			Status:           string(active.session.Status),
			FailureStage:     string(active.session.FailureStage),
			FailureOutput:    active.session.FailureOutput,
		})
		if err != nil {
			return fmt.Errorf("finalizing session hash: %w", err)
		}
		active.session.SessionHash = hash
	}
	r.persist(active.session)
	return nil
}

// persist updates the store copy of the session. Called with the
// session's mutex held. A store failure here cannot unwind an applied
// transition; it is logged and the in-memory record stays authoritative.
func (r *Runtime) persist(session *store.Session) {
	if err := r.store.Update(session); err != nil {
		r.logger.Error("persisting session failed", "session_id", session.ID, "error", err)
	}
}

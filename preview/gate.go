// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package preview

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/previewd/previewd/lib/digest"
)

// Assembly is the gate's description of a certified-complete, hash-locked
// application assembly. The manifest hash is an opaque upstream
// reference; previewd consumes it, never re-validates it.
type Assembly struct {
	RequestID        string
	ManifestHash     string
	Framework        string
	FrameworkVersion string
	WorkspacePath    string
}

// Gate validates that upstream work is certified complete before any
// session may start.
type Gate interface {
	// Check returns the assembly for the request, or a
	// *PreconditionError listing every violation.
	Check(ctx context.Context, requestID string) (Assembly, error)
}

// PreconditionError reports every violation that blocks a preview from
// starting. Raised synchronously, before any session record exists.
type PreconditionError struct {
	RequestID  string
	Violations []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("preconditions not met for request %s: %s",
		e.RequestID, strings.Join(e.Violations, "; "))
}

// ledgerEntry is one request's record in the assembly ledger file.
type ledgerEntry struct {
	// Complete is the upstream certification verdict.
	Complete bool `yaml:"complete"`

	// ManifestHash is the hash-locked reference to the approved
	// assembly description.
	ManifestHash string `yaml:"manifest_hash"`

	Framework        string `yaml:"framework"`
	FrameworkVersion string `yaml:"framework_version"`

	// Workspace is the host path of the assembled application.
	Workspace string `yaml:"workspace"`
}

type ledgerFile struct {
	Requests map[string]ledgerEntry `yaml:"requests"`
}

// LedgerGate is a Gate backed by a YAML ledger file written by the
// upstream assembly pipeline: one entry per request id, carrying the
// certification verdict and the hash-locked manifest reference.
type LedgerGate struct {
	entries map[string]ledgerEntry
}

// NewLedgerGate loads the ledger file.
func NewLedgerGate(path string) (*LedgerGate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading assembly ledger: %w", err)
	}
	var ledger ledgerFile
	if err := yaml.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("parsing assembly ledger %s: %w", path, err)
	}
	return &LedgerGate{entries: ledger.Requests}, nil
}

// Check validates the request's ledger entry and accumulates every
// violation rather than stopping at the first.
func (g *LedgerGate) Check(ctx context.Context, requestID string) (Assembly, error) {
	entry, ok := g.entries[requestID]
	if !ok {
		return Assembly{}, &PreconditionError{
			RequestID:  requestID,
			Violations: []string{"no assembly record exists for this request"},
		}
	}

	var violations []string
	if !entry.Complete {
		violations = append(violations, "assembly is not certified complete")
	}
	if entry.ManifestHash == "" {
		violations = append(violations, "assembly manifest is not hash-locked")
	} else if !digest.IsHex(entry.ManifestHash, 32) {
		violations = append(violations, fmt.Sprintf("manifest reference %q is not a hash lock", entry.ManifestHash))
	}
	if entry.Framework == "" {
		violations = append(violations, "assembly names no framework")
	}
	if entry.Workspace == "" {
		violations = append(violations, "assembly names no workspace path")
	} else if _, err := os.Stat(entry.Workspace); err != nil {
		violations = append(violations, fmt.Sprintf("workspace path %s does not exist", entry.Workspace))
	}
	if len(violations) > 0 {
		return Assembly{}, &PreconditionError{RequestID: requestID, Violations: violations}
	}

	return Assembly{
		RequestID:        requestID,
		ManifestHash:     entry.ManifestHash,
		Framework:        entry.Framework,
		FrameworkVersion: entry.FrameworkVersion,
		WorkspacePath:    entry.Workspace,
	}, nil
}

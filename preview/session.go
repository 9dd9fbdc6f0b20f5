// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package preview

import (
	"errors"

	"github.com/previewd/previewd/lib/lifecycle"
	"github.com/previewd/previewd/lib/store"
	"github.com/previewd/previewd/sandbox"
)

// Snapshot is the caller-facing view of one session. Always well-formed;
// failure output is raw captured text with zero redaction or
// interpretation — presentation is entirely the caller's concern.
type Snapshot struct {
	SessionID     string             `json:"session_id"`
	Status        lifecycle.Status   `json:"status"`
	PreviewURL    string             `json:"preview_url,omitempty"`
	FailureStage  store.FailureStage `json:"failure_stage,omitempty"`
	FailureOutput string             `json:"failure_output,omitempty"`
}

// classifyFailure maps a pipeline error to its failure stage and the raw
// output preserved on the record. phase is the phase that was executing
// when the error surfaced.
func classifyFailure(err error, phase string) (store.FailureStage, string) {
	var timeout *sandbox.CommandTimeoutError
	if errors.As(err, &timeout) {
		output := timeout.Stderr
		if output == "" {
			output = err.Error()
		}
		return store.StageTimeout, output
	}

	var failure *sandbox.CommandFailureError
	if errors.As(err, &failure) {
		output := failure.Stderr
		if output == "" {
			output = failure.Stdout
		}
		if output == "" {
			output = err.Error()
		}
		switch phase {
		case store.PhaseBuild:
			return store.StageBuild, output
		case store.PhaseStart:
			return store.StageStart, output
		default:
			return store.StageInstall, output
		}
	}

	var readiness *ReadinessTimeoutError
	if errors.As(err, &readiness) {
		return store.StageStart, err.Error()
	}

	return store.StageCrash, err.Error()
}

// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/previewd/previewd/lib/netutil"
	"github.com/previewd/previewd/lib/ports"
	"github.com/previewd/previewd/lib/store"
	"github.com/previewd/previewd/preview"
)

// api exposes the preview runtime over HTTP.
type api struct {
	runtime *preview.Runtime
	logger  *slog.Logger
}

func newAPI(runtime *preview.Runtime, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{runtime: runtime, logger: logger.With("component", "api")}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/previews", a.startPreview)
	mux.HandleFunc("GET /v1/previews/{id}", a.getStatus)
	mux.HandleFunc("DELETE /v1/previews/{id}", a.terminatePreview)
	return mux
}

// startRequest is the POST /v1/previews body.
type startRequest struct {
	RequestID string `json:"request_id"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func (a *api) startPreview(w http.ResponseWriter, r *http.Request) {
	var request startRequest
	if err := netutil.DecodeRequest(r.Body, &request); err != nil {
		netutil.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if request.RequestID == "" {
		netutil.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "request_id is required"})
		return
	}

	sessionID, err := a.runtime.StartPreview(r.Context(), request.RequestID)
	if err != nil {
		var precondition *preview.PreconditionError
		switch {
		case errors.As(err, &precondition):
			netutil.WriteJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:      "preconditions not met",
				Violations: precondition.Violations,
			})
		case errors.Is(err, ports.ErrPortExhausted):
			netutil.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			a.logger.Error("start preview failed", "request_id", request.RequestID, "error", err)
			netutil.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}

	netutil.WriteJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (a *api) getStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.runtime.GetStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			netutil.WriteJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		netutil.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	netutil.WriteJSON(w, http.StatusOK, snapshot)
}

func (a *api) terminatePreview(w http.ResponseWriter, r *http.Request) {
	err := a.runtime.TerminatePreview(r.Context(), r.PathValue("id"), "API_REQUEST")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			netutil.WriteJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		a.logger.Error("terminate failed", "session_id", r.PathValue("id"), "error", err)
		netutil.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities for previewd.
//
// Body helpers (DecodeRequest, DecodeResponse, ErrorBody) bound all body
// reads at MaxBodySize to prevent unbounded memory allocation from a
// misbehaving client or server. These are for JSON API bodies, not for
// streaming transfers, which should be read incrementally with io.Copy.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxBodySize is the bound on JSON body reads: 16 MB. This exists solely
// to prevent a pathological body from exhausting system memory. Legitimate
// preview API payloads are orders of magnitude smaller; the limit is
// intentionally generous so that it never interferes with normal operation.
const MaxBodySize int64 = 16 << 20

// DecodeRequest reads a JSON request body (up to MaxBodySize bytes) and
// decodes it into v. Replaces the common io.ReadAll + json.Unmarshal
// pattern in handlers.
func DecodeRequest(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxBodySize))
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// DecodeResponse reads a JSON response body (up to MaxBodySize bytes) and
// decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxBodySize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a string
// for diagnostic error messages. Read errors are silently ignored — a
// partial or empty body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxBodySize))
	return string(data)
}

// WriteJSON encodes v as JSON to w with the given status code. Encoding
// errors are not reported to the client: the status line has already been
// written by the time encoding runs.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		body := bytes.NewReader([]byte(`{"request_id":"req-42"}`))
		var result struct {
			RequestID string `json:"request_id"`
		}
		if err := DecodeRequest(body, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.RequestID != "req-42" {
			t.Fatalf("request_id: got %q, want %q", result.RequestID, "req-42")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if err := DecodeRequest(bytes.NewReader([]byte(`not json`)), &struct{}{}); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if err := DecodeRequest(&failReader{}, &struct{}{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestDecodeResponse(t *testing.T) {
	body := bytes.NewReader([]byte(`{"name":"test","count":42}`))
	var result struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := DecodeResponse(body, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "test" {
		t.Fatalf("name: got %q, want %q", result.Name, "test")
	}
	if result.Count != 42 {
		t.Fatalf("count: got %d, want %d", result.Count, 42)
	}
}

func TestErrorBody(t *testing.T) {
	t.Run("returns body as string", func(t *testing.T) {
		got := ErrorBody(bytes.NewReader([]byte(`{"error":"port range exhausted"}`)))
		if got != `{"error":"port range exhausted"}` {
			t.Fatalf("got %q, want %q", got, `{"error":"port range exhausted"}`)
		}
	})

	t.Run("read error returns empty", func(t *testing.T) {
		if got := ErrorBody(&failReader{}); got != "" {
			t.Fatalf("expected empty from failing reader, got %q", got)
		}
	})
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 202, map[string]string{"session_id": "abc"})
	if rec.Code != 202 {
		t.Fatalf("status: got %d, want 202", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type: got %q", got)
	}
	var body map[string]string
	if err := DecodeResponse(rec.Body, &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["session_id"] != "abc" {
		t.Fatalf("session_id: got %q", body["session_id"])
	}
}

// failReader always returns an error on Read.
type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}

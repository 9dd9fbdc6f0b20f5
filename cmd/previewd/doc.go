// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements previewd — the preview runtime daemon. It
// accepts preview requests over a local HTTP API, verifies each request
// against the assembly ledger, and runs the application in a hardened
// container sandbox with a dedicated host port.
//
// # API
//
//	POST   /v1/previews        start a preview for a request id
//	GET    /v1/previews/{id}   session status snapshot
//	DELETE /v1/previews/{id}   terminate a session (idempotent)
//
// Start is asynchronous: the POST returns 202 with a session id as soon
// as preconditions pass and a port is reserved; install, build, and
// serve progress is observed through GET. Precondition violations are
// reported synchronously as 422 with the full violation list.
package main

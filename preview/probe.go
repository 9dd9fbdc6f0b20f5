// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package preview

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ReadinessTimeoutError reports a started service that never answered
// the readiness probe within the ceiling. Classified as a start-stage
// failure.
type ReadinessTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("service at %s not ready after %s", e.URL, e.Timeout)
}

// awaitReady polls the preview URL at a fixed interval until any HTTP
// response arrives — a 404 from a framework router is still a listening
// service — or the ceiling passes. Service liveness is observed only
// here, never through the start command's completion.
func awaitReady(ctx context.Context, client *http.Client, url string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building probe request: %w", err)
		}
		response, err := client.Do(request)
		if err == nil {
			response.Body.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return &ReadinessTimeoutError{URL: url, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

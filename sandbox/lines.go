// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"strings"
)

// MaxCapturedLines is the per-stream cap on captured command output.
// Beyond it, one synthetic line reports how many lines were omitted.
const MaxCapturedLines = 10000

// capLines returns s truncated to the first max lines. The content of
// kept lines is byte-for-byte as produced; only the tail is replaced by
// the truncation marker.
func capLines(s string, max int) string {
	if s == "" {
		return s
	}
	// Count newlines rather than splitting: output at the cap is large
	// and splitting would double its memory.
	total := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		total++
	}
	if total <= max {
		return s
	}

	end := 0
	for i := 0; i < max; i++ {
		next := strings.IndexByte(s[end:], '\n')
		if next < 0 {
			end = len(s)
			break
		}
		end += next + 1
	}
	return s[:end] + fmt.Sprintf("[output truncated: %d lines omitted]\n", total-max)
}

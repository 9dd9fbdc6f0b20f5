// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", rel, err)
	}
}

func mustDirectoryHash(t *testing.T, root string) string {
	t.Helper()
	sum, err := DirectoryHash(root)
	if err != nil {
		t.Fatalf("DirectoryHash(%s): %v", root, err)
	}
	return sum
}

func TestDirectoryHashDeterministic(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	// Same relative paths and contents, created in different orders.
	writeFile(t, a, "src/index.js", "console.log('hi')\n")
	writeFile(t, a, "package.json", `{"name":"app"}`)
	writeFile(t, a, "src/lib/util.js", "export {}\n")

	writeFile(t, b, "src/lib/util.js", "export {}\n")
	writeFile(t, b, "src/index.js", "console.log('hi')\n")
	writeFile(t, b, "package.json", `{"name":"app"}`)

	if got, want := mustDirectoryHash(t, a), mustDirectoryHash(t, b); got != want {
		t.Errorf("hashes differ for identical content: %s vs %s", got, want)
	}
}

func TestDirectoryHashIgnoresMtimeAndMode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	before := mustDirectoryHash(t, root)

	path := filepath.Join(root, "main.go")
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	if after := mustDirectoryHash(t, root); after != before {
		t.Errorf("hash changed after mtime/mode change: %s vs %s", before, after)
	}
}

func TestDirectoryHashSensitivity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, root string)
	}{
		{"content_change", func(t *testing.T, root string) {
			writeFile(t, root, "a.txt", "changed")
		}},
		{"path_change", func(t *testing.T, root string) {
			orig := filepath.Join(root, "a.txt")
			if err := os.Rename(orig, filepath.Join(root, "b.txt")); err != nil {
				t.Fatalf("Rename: %v", err)
			}
		}},
		{"added_file", func(t *testing.T, root string) {
			writeFile(t, root, "extra.txt", "more")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "a.txt", "original")
			before := mustDirectoryHash(t, root)
			tt.mutate(t, root)
			if after := mustDirectoryHash(t, root); after == before {
				t.Error("hash unchanged after mutation")
			}
		})
	}
}

func TestDirectoryHashExcludesCacheDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.js", "code")
	before := mustDirectoryHash(t, root)

	writeFile(t, root, "node_modules/dep/index.js", "vendored")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")
	writeFile(t, root, ".next/cache/x", "artifact")

	if after := mustDirectoryHash(t, root); after != before {
		t.Errorf("hash changed after cache/VCS writes: %s vs %s", before, after)
	}
}

func TestDirectoryHashPathBoundary(t *testing.T) {
	// "a" containing "bc" must hash differently from "ab" containing "c".
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, a, "a", "bc")
	writeFile(t, b, "ab", "c")

	if mustDirectoryHash(t, a) == mustDirectoryHash(t, b) {
		t.Error("path/content boundary is ambiguous")
	}
}

func TestDirectoryHashMissingRoot(t *testing.T) {
	if _, err := DirectoryHash(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("DirectoryHash on missing root = nil error, want error")
	}
}

func TestSessionHashExcludesNondeterministicFields(t *testing.T) {
	fields := SessionFields{
		RequestID:        "req-42",
		Framework:        "nextjs",
		FrameworkVersion: "15.1.0",
		ManifestHash:     "abc123",
		WorkspaceHash:    "def456",
		Status:           "TERMINATED",
	}

	first, err := SessionHash(fields)
	if err != nil {
		t.Fatalf("SessionHash: %v", err)
	}
	if first == "" {
		t.Fatal("SessionHash returned empty digest")
	}

	// Identical deterministic fields hash identically; ids, ports, and
	// timestamps are not inputs at all.
	second, err := SessionHash(fields)
	if err != nil {
		t.Fatalf("SessionHash: %v", err)
	}
	if first != second {
		t.Errorf("SessionHash not stable: %s vs %s", first, second)
	}
}

func TestSessionHashSensitiveToEachField(t *testing.T) {
	base := SessionFields{
		RequestID:        "req-42",
		Framework:        "nextjs",
		FrameworkVersion: "15.1.0",
		ManifestHash:     "abc123",
		WorkspaceHash:    "def456",
		Status:           "FAILED",
		FailureStage:     "build",
		FailureOutput:    "error TS2304",
	}
	baseline, err := SessionHash(base)
	if err != nil {
		t.Fatalf("SessionHash: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(f *SessionFields)
	}{
		{"request_id", func(f *SessionFields) { f.RequestID = "req-43" }},
		{"framework", func(f *SessionFields) { f.Framework = "vite" }},
		{"framework_version", func(f *SessionFields) { f.FrameworkVersion = "15.2.0" }},
		{"manifest_hash", func(f *SessionFields) { f.ManifestHash = "zzz" }},
		{"workspace_hash", func(f *SessionFields) { f.WorkspaceHash = "yyy" }},
		{"status", func(f *SessionFields) { f.Status = "TERMINATED" }},
		{"failure_stage", func(f *SessionFields) { f.FailureStage = "install" }},
		{"failure_output", func(f *SessionFields) { f.FailureOutput = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := base
			tt.mutate(&mutated)
			sum, err := SessionHash(mutated)
			if err != nil {
				t.Fatalf("SessionHash: %v", err)
			}
			if sum == baseline {
				t.Error("hash unchanged after field mutation")
			}
		})
	}
}

func TestIsHex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		bytes int
		want  bool
	}{
		{"valid_sha256", "6ca13d52ca70c883e0f0bb101e425a89e8624de51db2d2392593af6a84118090", 32, true},
		{"wrong_length", "abcd", 32, false},
		{"not_hex", "zz13d52ca70c883e0f0bb101e425a89e8624de51db2d2392593af6a84118090", 32, false},
		{"empty", "", 32, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHex(tt.input, tt.bytes); got != tt.want {
				t.Errorf("IsHex(%q, %d) = %v, want %v", tt.input, tt.bytes, got, tt.want)
			}
		})
	}
}

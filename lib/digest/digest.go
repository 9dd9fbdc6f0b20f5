// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the deterministic hashes that stamp a preview
// session's audit record: a content hash of the input workspace and a
// one-shot hash of the session's deterministic fields.
//
// Both hashes are SHA-256 hex digests. Directory hashing depends only on
// the set of (relative path, byte content) pairs — never on traversal
// order, modification times, or permission bits — so the same workspace
// produces the same digest on any host. The session hash deliberately
// excludes everything non-deterministic (ids, port, URL, timestamps) so
// that two runs of the same request with the same outcome stamp the same
// value.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// excludedDirs are build-cache and VCS metadata directories skipped during
// directory hashing. Their contents vary between otherwise identical
// workspaces.
var excludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	".next":        true,
	".nuxt":        true,
	".output":      true,
	".turbo":       true,
	".cache":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// DirectoryHash returns the SHA-256 hex digest of the directory's content:
// every regular file's slash-separated relative path followed by its bytes,
// streamed through one digest in lexicographic path order.
func DirectoryHash(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != root && excludedDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(paths)

	hash := sha256.New()
	for _, rel := range paths {
		// Path and content go through the same digest; a separator after
		// the path keeps "a" + "bc" distinct from "ab" + "c".
		hash.Write([]byte(rel))
		hash.Write([]byte{0})
		file, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", rel, err)
		}
		_, err = io.Copy(hash, file)
		file.Close()
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// SessionFields is the explicit deterministic field set that contributes
// to a session's final hash. Session id, allocated port, preview URL, and
// all timestamps are deliberately absent.
type SessionFields struct {
	FailureOutput    string `json:"failure_output"`
	FailureStage     string `json:"failure_stage"`
	Framework        string `json:"framework"`
	FrameworkVersion string `json:"framework_version"`
	ManifestHash     string `json:"manifest_hash"`
	RequestID        string `json:"request_id"`
	Status           string `json:"status"`
	WorkspaceHash    string `json:"workspace_hash"`
}

// SessionHash canonicalizes the field set (JSON with keys in sorted order)
// and returns its SHA-256 hex digest. Callers compute this exactly once,
// after the session reaches a terminal status.
func SessionHash(fields SessionFields) (string, error) {
	// Struct fields are declared in sorted key order; encoding/json
	// preserves declaration order, which keeps the serialization canonical.
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("canonicalizing session fields: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IsHex reports whether s is a hex digest of the given byte length. Used
// by gate validation to reject manifest references that are not
// hash-locked.
func IsHex(s string, bytes int) bool {
	if len(s) != bytes*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

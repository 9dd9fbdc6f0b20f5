// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package frameworks provides embedded framework profile definitions:
// the install/build/start command lines and in-container service port
// for each application framework the preview runtime can run.
//
// Profiles are JSONC (JSON with comments and trailing commas) embedded
// at compile time via go:embed. The orchestrator resolves a session's
// phase commands from the profile named by the upstream assembly; the
// manifest hash stays an opaque upstream reference and is never
// re-validated here.
package frameworks

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
)

//go:embed profiles/*.jsonc
var profileFiles embed.FS

// Profile describes how one framework's applications are installed,
// built, and started inside the sandbox.
type Profile struct {
	// Name is the framework name, derived from the filename without
	// extension (e.g. "nextjs" from "nextjs.jsonc").
	Name string `json:"-"`

	// InstallCommand resolves dependencies from the workspace manifest.
	InstallCommand string `json:"install_command"`

	// BuildCommand produces the runnable build output.
	BuildCommand string `json:"build_command"`

	// StartCommand launches the long-lived service. It is started
	// fire-and-forget; its natural exit is never awaited.
	StartCommand string `json:"start_command"`

	// ServicePort is the in-container port the started service listens
	// on, mapped 1:1 to the session's allocated host port.
	ServicePort int `json:"service_port"`

	// SourceHash is the SHA-256 hex digest of the raw JSONC source file,
	// recorded so audit tooling can detect profile drift between builds.
	SourceHash string `json:"-"`
}

var (
	loadOnce sync.Once
	loaded   map[string]Profile
	loadErr  error
)

func load() (map[string]Profile, error) {
	loadOnce.Do(func() {
		entries, err := profileFiles.ReadDir("profiles")
		if err != nil {
			loadErr = fmt.Errorf("reading embedded profile directory: %w", err)
			return
		}
		profiles := make(map[string]Profile)
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonc" {
				continue
			}
			path := "profiles/" + entry.Name()
			data, err := profileFiles.ReadFile(path)
			if err != nil {
				loadErr = fmt.Errorf("reading embedded profile %s: %w", path, err)
				return
			}

			var profile Profile
			if err := json.Unmarshal(jsonc.ToJSON(data), &profile); err != nil {
				loadErr = fmt.Errorf("parsing embedded profile %s: %w", path, err)
				return
			}
			profile.Name = strings.TrimSuffix(entry.Name(), ".jsonc")

			if issues := validate(profile); len(issues) > 0 {
				// A bad embedded profile is a build defect, not a runtime
				// condition.
				loadErr = fmt.Errorf("validating embedded profile %s: %s", path, strings.Join(issues, "; "))
				return
			}

			hash := sha256.Sum256(data)
			profile.SourceHash = hex.EncodeToString(hash[:])
			profiles[profile.Name] = profile
		}
		loaded = profiles
	})
	return loaded, loadErr
}

func validate(profile Profile) []string {
	var issues []string
	if profile.InstallCommand == "" {
		issues = append(issues, "install_command is required")
	}
	if profile.BuildCommand == "" {
		issues = append(issues, "build_command is required")
	}
	if profile.StartCommand == "" {
		issues = append(issues, "start_command is required")
	}
	if profile.ServicePort < 1 || profile.ServicePort > 65535 {
		issues = append(issues, fmt.Sprintf("service_port %d out of range", profile.ServicePort))
	}
	return issues
}

// Resolve returns the profile for the named framework.
func Resolve(name string) (Profile, error) {
	profiles, err := load()
	if err != nil {
		return Profile{}, err
	}
	profile, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown framework %q", name)
	}
	return profile, nil
}

// All returns every embedded profile, keyed by framework name.
func All() (map[string]Profile, error) {
	profiles, err := load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(profiles))
	for name, profile := range profiles {
		out[name] = profile
	}
	return out, nil
}

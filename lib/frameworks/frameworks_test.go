// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package frameworks

import (
	"strings"
	"testing"
)

func TestResolveKnownFrameworks(t *testing.T) {
	for _, name := range []string{"nextjs", "vite", "astro", "express"} {
		t.Run(name, func(t *testing.T) {
			profile, err := Resolve(name)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", name, err)
			}
			if profile.Name != name {
				t.Errorf("Name = %q, want %q", profile.Name, name)
			}
			if profile.InstallCommand == "" || profile.BuildCommand == "" || profile.StartCommand == "" {
				t.Errorf("profile %q has empty commands: %+v", name, profile)
			}
			if profile.ServicePort < 1 || profile.ServicePort > 65535 {
				t.Errorf("ServicePort = %d, out of range", profile.ServicePort)
			}
			if len(profile.SourceHash) != 64 {
				t.Errorf("SourceHash = %q, want 64 hex chars", profile.SourceHash)
			}
		})
	}
}

func TestResolveUnknownFramework(t *testing.T) {
	_, err := Resolve("fortran-on-rails")
	if err == nil {
		t.Fatal("Resolve(unknown) = nil error, want error")
	}
	if !strings.Contains(err.Error(), "unknown framework") {
		t.Errorf("error = %v, want unknown framework", err)
	}
}

func TestAllProfilesDistinctHashes(t *testing.T) {
	profiles, err := All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(profiles) < 4 {
		t.Fatalf("All returned %d profiles, want at least 4", len(profiles))
	}
	seen := make(map[string]string)
	for name, profile := range profiles {
		if prev, dup := seen[profile.SourceHash]; dup {
			t.Errorf("profiles %q and %q share a source hash", prev, name)
		}
		seen[profile.SourceHash] = name
	}
}

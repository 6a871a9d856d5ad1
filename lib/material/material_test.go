// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package material

import (
	"strings"
	"testing"
)

func gitMaterial(url string) Material {
	return Material{Kind: Git, URL: url, Branch: "main"}
}

func TestFingerprintIgnoresNonIdentifyingAttributes(t *testing.T) {
	base := gitMaterial("https://git.example.com/app.git")

	variant := base
	variant.Name = "app"
	variant.Filter = NewFilter("**/*.doc")
	variant.EncryptedPassword = "c2VjcmV0"
	disabled := false
	variant.AutoUpdate = &disabled

	if base.Fingerprint() != variant.Fingerprint() {
		t.Error("fingerprint changed with name/filter/password/auto-update")
	}
	if base.PipelineUniqueFingerprint() != variant.PipelineUniqueFingerprint() {
		t.Error("pipeline-unique fingerprint changed with name/filter/password/auto-update")
	}
}

func TestFingerprintCoversIdentity(t *testing.T) {
	base := gitMaterial("https://git.example.com/app.git")

	otherBranch := base
	otherBranch.Branch = "release"
	if base.Fingerprint() == otherBranch.Fingerprint() {
		t.Error("branch does not affect fingerprint")
	}

	otherURL := gitMaterial("https://git.example.com/lib.git")
	if base.Fingerprint() == otherURL.Fingerprint() {
		t.Error("url does not affect fingerprint")
	}

	if len(base.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex characters", len(base.Fingerprint()))
	}
}

func TestFolderOnlyAffectsPipelineUniqueFingerprint(t *testing.T) {
	first := gitMaterial("https://git.example.com/app.git")
	first.Folder = "app"
	second := first
	second.Folder = "checkout/app"

	if first.Fingerprint() != second.Fingerprint() {
		t.Error("folder changed the fingerprint")
	}
	if first.PipelineUniqueFingerprint() == second.PipelineUniqueFingerprint() {
		t.Error("folder did not change the pipeline-unique fingerprint")
	}
	if first.Fingerprint() == first.PipelineUniqueFingerprint() {
		t.Error("fingerprint and pipeline-unique fingerprint share a hash domain")
	}
}

func TestGitDefaultBranch(t *testing.T) {
	implicit := Material{Kind: Git, URL: "https://git.example.com/app.git"}
	explicit := Material{Kind: Git, URL: "https://git.example.com/app.git", Branch: "master"}
	if implicit.Fingerprint() != explicit.Fingerprint() {
		t.Error("empty git branch is not treated as master")
	}
}

func TestDependencyFingerprintIsCaseInsensitive(t *testing.T) {
	lower := Material{Kind: Dependency, Pipeline: "upstream", Stage: "build"}
	mixed := Material{Kind: Dependency, Pipeline: "UpStream", Stage: "Build"}
	if lower.Fingerprint() != mixed.Fingerprint() {
		t.Error("dependency fingerprint depends on name case")
	}
}

func TestMaterialEqualAndClone(t *testing.T) {
	original := gitMaterial("https://git.example.com/app.git")
	original.Filter = NewFilter("**/*.doc", "*.md")
	original.Properties = map[string]string{"depth": "1"}

	clone := original.Clone()
	if !original.Equal(clone) {
		t.Fatal("clone is not equal to the original")
	}

	clone.Filter.Patterns[0] = "**/*.txt"
	clone.Properties["depth"] = "2"
	if original.Filter.Patterns[0] != "**/*.doc" || original.Properties["depth"] != "1" {
		t.Error("clone shares state with the original")
	}
	if original.Equal(clone) {
		t.Error("materials with different filters compare equal")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		material Material
		wantErr  string
	}{
		{"git ok", gitMaterial("https://git.example.com/app.git"), ""},
		{"git without url", Material{Kind: Git}, "missing url"},
		{"p4 without view", Material{Kind: Perforce, URL: "perforce:1666"}, "missing view"},
		{"dependency ok", Material{Kind: Dependency, Pipeline: "up", Stage: "build"}, ""},
		{"dependency without stage", Material{Kind: Dependency, Pipeline: "up"}, "missing stage"},
		{"package", Material{Kind: Package, Repository: "npm"}, "missing package"},
		{"plugin", Material{Kind: Plugin, SCMID: "x"}, "missing plugin"},
		{"unknown kind", Material{Kind: "cvs", URL: "x"}, "unknown material type"},
		{"bad filter", Material{Kind: Git, URL: "x", Filter: NewFilter("docs/[a-")}, "filter"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.material.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		material Material
		want     string
	}{
		{Material{Kind: Git, URL: "https://x/app.git", Name: "app"}, "app"},
		{Material{Kind: Git, URL: "https://x/app.git"}, "https://x/app.git"},
		{Material{Kind: Git, URL: "https://x/app.git", Branch: "release"}, "https://x/app.git, release"},
		{Material{Kind: Dependency, Pipeline: "up", Stage: "build"}, "up/build"},
	}
	for _, test := range tests {
		if got := test.material.DisplayName(); got != test.want {
			t.Errorf("DisplayName() = %q, want %q", got, test.want)
		}
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package glob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		// Single-segment wildcards.
		{"*.doc", "user.doc", true},
		{"*.doc", "docs/user.doc", false},
		{"README.?d", "README.md", true},
		{"README.?d", "README.mdd", false},

		// Leading recursive wildcard.
		{"**/*.doc", "user.doc", true},
		{"**/*.doc", "docs/user.doc", true},
		{"**/*.doc", "docs/api/v2/user.doc", true},
		{"**/*.doc", "docs/user.docx", false},

		// Trailing recursive wildcard.
		{"docs/**", "docs", true},
		{"docs/**", "docs/a.md", true},
		{"docs/**", "docs/api/a.md", true},
		{"docs/**", "src/docs/a.md", false},

		// Interior recursive wildcard.
		{"helper/**/*.*", "helper/a.xml", true},
		{"helper/**/*.*", "helper/topics/installing_agent.xml", true},
		{"helper/**/*.*", "helper/topics/deep/a.xml", true},
		{"helper/**/*.*", "other/topics/a.xml", false},
		{"helper/**/*.*", "helper/topics/Makefile", false},

		// Multiple recursive wildcards.
		{"**/test/**/*_test.go", "lib/test/unit/a_test.go", true},
		{"**/test/**/*_test.go", "test/a_test.go", true},
		{"**/test/**/*_test.go", "lib/tests/a_test.go", false},

		// Universal.
		{"**", "anything/at/all", true},

		// Normalisation.
		{"**/*.doc", `docs\user.doc`, true},
		{"docs/*.md", "./docs/a.md", true},
		{"/docs/*.md", "docs/a.md", true},

		// Malformed patterns match nothing.
		{"[", "[", false},
		{"docs/[a-", "docs/a", false},
	}

	for _, test := range tests {
		if got := Match(test.pattern, test.name); got != test.want {
			t.Errorf("Match(%q, %q) = %v, want %v", test.pattern, test.name, got, test.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"**/*.doc", "*.doc"}
	if !MatchAny(patterns, "user.doc") {
		t.Error("MatchAny(user.doc) = false, want true")
	}
	if MatchAny(patterns, "A.java") {
		t.Error("MatchAny(A.java) = true, want false")
	}
	if MatchAny(nil, "user.doc") {
		t.Error("MatchAny(nil) = true, want false")
	}
}

func TestValidate(t *testing.T) {
	for _, pattern := range []string{"**/*.doc", "docs/**", "src/[a-z]*.go"} {
		if err := Validate(pattern); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", pattern, err)
		}
	}
	for _, pattern := range []string{"", "   ", "docs/[a-"} {
		if err := Validate(pattern); err == nil {
			t.Errorf("Validate(%q) = nil, want error", pattern)
		}
	}
}

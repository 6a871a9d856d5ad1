// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package glob matches slash-separated file paths against the patterns
// used in material filters:
//
//   - "*" and "?" match within one path segment (path.Match rules)
//   - "**" as a whole segment matches zero or more segments
//   - "[...]" character classes work as in path.Match
//
// So "**/*.doc" matches "a.doc" and "docs/api/a.doc", "*.doc" matches
// only "a.doc", and "helper/**/*.*" matches "helper/a.xml" and
// "helper/topics/a.xml". Any number of "**" segments may appear.
//
// Paths are normalised before matching: backslashes become slashes and
// a leading "./" or "/" is dropped, so paths reported by Windows-hosted
// SCMs match the same patterns.
package glob

import (
	"fmt"
	"path"
	"strings"
)

// Match reports whether name matches pattern. A malformed pattern
// matches nothing.
func Match(pattern, name string) bool {
	return matchSegments(split(pattern), split(name))
}

// MatchAny reports whether name matches at least one pattern. An empty
// pattern list matches nothing.
func MatchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if Match(pattern, name) {
			return true
		}
	}
	return false
}

// Validate returns an error if pattern is empty or malformed.
func Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("glob: empty pattern")
	}
	for _, segment := range split(pattern) {
		if segment == "**" {
			continue
		}
		if _, err := path.Match(segment, ""); err != nil {
			return fmt.Errorf("glob: pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Normalize returns name in the form Match compares against.
func Normalize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	for {
		switch {
		case strings.HasPrefix(name, "./"):
			name = name[2:]
		case strings.HasPrefix(name, "/"):
			name = name[1:]
		default:
			return name
		}
	}
}

func split(name string) []string {
	return strings.Split(Normalize(name), "/")
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for len(rest) > 0 && rest[0] == "**" {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for start := 0; start <= len(name); start++ {
				if matchSegments(rest, name[start:]) {
					return true
				}
			}
			return false
		}

		if len(name) == 0 {
			return false
		}
		matched, err := path.Match(pattern[0], name[0])
		if err != nil || !matched {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}

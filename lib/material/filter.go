// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package material

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/glob"
)

// Filter decides which changed files are irrelevant to a pipeline.
//
// With Invert unset, Patterns are ignore rules: a file matching any
// pattern is ignored. With Invert set, Patterns are the files that
// matter and every other file is ignored.
type Filter struct {
	Patterns []string `json:"ignore,omitempty" cbor:"patterns,omitempty"`
	Invert   bool     `json:"invert,omitempty" cbor:"invert,omitempty"`
}

// NewFilter returns an ignore filter over patterns.
func NewFilter(patterns ...string) Filter {
	return Filter{Patterns: patterns}
}

// IsEmpty reports whether the filter has no patterns. An empty filter
// never ignores anything, inverted or not.
func (f Filter) IsEmpty() bool {
	return len(f.normalized()) == 0
}

// IgnoresPath reports whether a changed file at path is irrelevant.
func (f Filter) IgnoresPath(path string) bool {
	patterns := f.normalized()
	if len(patterns) == 0 {
		return false
	}
	matched := glob.MatchAny(patterns, path)
	if f.Invert {
		return !matched
	}
	return matched
}

// IgnoresModification reports whether every file changed by mod is
// ignored. A modification that reports no files is never ignored.
func (f Filter) IgnoresModification(mod Modification) bool {
	if f.IsEmpty() || len(mod.Files) == 0 {
		return false
	}
	for _, file := range mod.Files {
		if !f.IgnoresPath(file.Path) {
			return false
		}
	}
	return true
}

// IgnoresAll reports whether every modification in mods is ignored.
// An empty list is not ignored.
func (f Filter) IgnoresAll(mods Modifications) bool {
	if len(mods) == 0 {
		return false
	}
	for _, mod := range mods {
		if !f.IgnoresModification(mod) {
			return false
		}
	}
	return true
}

// Equal compares filters as pattern sets: order, duplicates, and
// surrounding whitespace do not matter.
func (f Filter) Equal(other Filter) bool {
	return f.Invert == other.Invert && slices.Equal(f.normalized(), other.normalized())
}

// Clone returns a copy with its own pattern slice.
func (f Filter) Clone() Filter {
	return Filter{Patterns: slices.Clone(f.Patterns), Invert: f.Invert}
}

// Validate rejects malformed patterns.
func (f Filter) Validate() error {
	for _, pattern := range f.Patterns {
		if err := glob.Validate(pattern); err != nil {
			return fmt.Errorf("filter: %w", err)
		}
	}
	return nil
}

func (f Filter) String() string {
	patterns := f.normalized()
	if f.Invert {
		return "only [" + strings.Join(patterns, ", ") + "]"
	}
	return "ignore [" + strings.Join(patterns, ", ") + "]"
}

// normalized returns the sorted, de-duplicated, trimmed pattern set.
func (f Filter) normalized() []string {
	patterns := make([]string, 0, len(f.Patterns))
	for _, pattern := range f.Patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	slices.Sort(patterns)
	return slices.Compact(patterns)
}

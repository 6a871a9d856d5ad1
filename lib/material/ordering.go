// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package material

import (
	"fmt"
	"strconv"
	"strings"
)

// Ordering compares revision tokens of one material kind.
type Ordering interface {
	// Total reports whether Compare defines an order over tokens by
	// value. When false, only the position of a modification in its
	// history says which is newer.
	Total() bool

	// Compare returns a negative number when a is older than b,
	// positive when newer, and zero when they are the same revision.
	Compare(a, b string) int
}

// OrderingFor selects the ordering strategy for a material kind.
func OrderingFor(kind Kind) Ordering {
	if kind == Dependency {
		return DependencyOrdering{}
	}
	return PositionalOrdering{}
}

// PositionalOrdering is used by source control materials, whose tokens
// (hashes, changeset ids) carry no order of their own.
type PositionalOrdering struct{}

func (PositionalOrdering) Total() bool { return false }

func (PositionalOrdering) Compare(a, b string) int {
	return strings.Compare(a, b)
}

// DependencyOrdering orders "pipeline/counter/stage/counter" tokens by
// pipeline counter and then stage counter, numerically. Tokens that do
// not parse sort before tokens that do.
type DependencyOrdering struct{}

func (DependencyOrdering) Total() bool { return true }

func (DependencyOrdering) Compare(a, b string) int {
	left, leftErr := ParseDependencyRevision(a)
	right, rightErr := ParseDependencyRevision(b)
	switch {
	case leftErr != nil && rightErr != nil:
		return strings.Compare(a, b)
	case leftErr != nil:
		return -1
	case rightErr != nil:
		return 1
	}
	if left.PipelineCounter != right.PipelineCounter {
		return compareInts(left.PipelineCounter, right.PipelineCounter)
	}
	return compareInts(left.StageCounter, right.StageCounter)
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// DependencyRevision is the parsed form of a dependency token.
type DependencyRevision struct {
	Pipeline        string
	PipelineCounter int
	Stage           string
	StageCounter    int
}

// ParseDependencyRevision parses "pipeline/counter/stage/counter".
func ParseDependencyRevision(token string) (DependencyRevision, error) {
	parts := strings.Split(token, "/")
	if len(parts) != 4 || parts[0] == "" || parts[2] == "" {
		return DependencyRevision{}, fmt.Errorf("dependency revision %q: want pipeline/counter/stage/counter", token)
	}
	pipelineCounter, err := strconv.Atoi(parts[1])
	if err != nil || pipelineCounter < 1 {
		return DependencyRevision{}, fmt.Errorf("dependency revision %q: invalid pipeline counter %q", token, parts[1])
	}
	stageCounter, err := strconv.Atoi(parts[3])
	if err != nil || stageCounter < 1 {
		return DependencyRevision{}, fmt.Errorf("dependency revision %q: invalid stage counter %q", token, parts[3])
	}
	return DependencyRevision{
		Pipeline:        parts[0],
		PipelineCounter: pipelineCounter,
		Stage:           parts[2],
		StageCounter:    stageCounter,
	}, nil
}

func (r DependencyRevision) String() string {
	return fmt.Sprintf("%s/%d/%s/%d", r.Pipeline, r.PipelineCounter, r.Stage, r.StageCounter)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelineconfig

import (
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/conveyor/lib/material"
)

// Snapshot is an immutable view of every configured pipeline.
type Snapshot struct {
	version   uint64
	loadedAt  time.Time
	pipelines []*Pipeline
	byName    map[string]*Pipeline
	issues    []string
}

// NewSnapshot applies defaults to pipelines, validates them one by one
// and as a set, and indexes them by name. The pipelines are owned by
// the snapshot afterwards.
func NewSnapshot(pipelines []*Pipeline) *Snapshot {
	snapshot := &Snapshot{byName: make(map[string]*Pipeline, len(pipelines))}
	for _, pipeline := range pipelines {
		pipeline.applyDefaults()
		snapshot.issues = append(snapshot.issues, Validate(pipeline)...)
	}
	snapshot.issues = append(snapshot.issues, validateSet(pipelines)...)

	snapshot.pipelines = slices.Clone(pipelines)
	slices.SortStableFunc(snapshot.pipelines, func(a, b *Pipeline) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	for _, pipeline := range snapshot.pipelines {
		key := strings.ToLower(pipeline.Name)
		if _, exists := snapshot.byName[key]; !exists {
			snapshot.byName[key] = pipeline
		}
	}
	return snapshot
}

// withIssues returns a copy of s with its pipelines and the given
// issues in place of its own.
func (s *Snapshot) withIssues(issues []string) *Snapshot {
	copied := *s
	copied.issues = slices.Clone(issues)
	return &copied
}

// Version increases with every snapshot a Store publishes.
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt is when the Store published the snapshot.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Issues lists validation and load problems. Scheduling is blocked
// while any are present.
func (s *Snapshot) Issues() []string { return slices.Clone(s.issues) }

// Valid reports whether the snapshot has no issues.
func (s *Snapshot) Valid() bool { return len(s.issues) == 0 }

// Pipeline looks a pipeline up by name, case-insensitively.
func (s *Snapshot) Pipeline(name string) (*Pipeline, error) {
	if pipeline, ok := s.byName[strings.ToLower(name)]; ok {
		return pipeline, nil
	}
	return nil, &PipelineNotFoundError{Name: name}
}

// Pipelines returns every pipeline sorted by name.
func (s *Snapshot) Pipelines() []*Pipeline {
	return slices.Clone(s.pipelines)
}

// PipelinesUsing returns the pipelines that have a material, or an
// origin, with the given fingerprint.
func (s *Snapshot) PipelinesUsing(fingerprint string) []*Pipeline {
	var using []*Pipeline
	for _, pipeline := range s.pipelines {
		if pipeline.Uses(fingerprint) {
			using = append(using, pipeline)
		}
	}
	return using
}

// Downstream returns the pipelines with a dependency material on the
// given upstream stage.
func (s *Snapshot) Downstream(pipeline, stage string) []*Pipeline {
	var downstream []*Pipeline
	for _, candidate := range s.pipelines {
		if candidate.DependsOn(pipeline, stage) {
			downstream = append(downstream, candidate)
		}
	}
	return downstream
}

// Materials returns every distinct material across all pipelines and
// origins, keyed by fingerprint. The first occurrence wins.
func (s *Snapshot) Materials() []material.Material {
	seen := make(map[string]bool)
	var materials []material.Material
	add := func(m material.Material) {
		fingerprint := m.Fingerprint()
		if !seen[fingerprint] {
			seen[fingerprint] = true
			materials = append(materials, m)
		}
	}
	for _, pipeline := range s.pipelines {
		for _, m := range pipeline.Materials {
			add(m)
		}
		if pipeline.Origin != nil {
			add(*pipeline.Origin)
		}
	}
	return materials
}

// Material finds a configured material by fingerprint.
func (s *Snapshot) Material(fingerprint string) (material.Material, bool) {
	for _, m := range s.Materials() {
		if m.Fingerprint() == fingerprint {
			return m, true
		}
	}
	return material.Material{}, false
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelineconfig

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/material"
)

// DefaultLabelTemplate labels instances with their counter.
const DefaultLabelTemplate = "${COUNT}"

// Pipeline is one pipeline definition. Values obtained from a Snapshot
// are shared and must not be modified.
type Pipeline struct {
	Name  string `json:"name,omitempty"`
	Group string `json:"group,omitempty"`

	// LabelTemplate names instances. It may reference ${COUNT} and
	// ${<material name>}, the latter expanding to the material's short
	// revision.
	LabelTemplate string `json:"label_template,omitempty"`

	Materials   []material.Material `json:"materials"`
	Stages      []Stage             `json:"stages"`
	Timer       *Timer              `json:"timer,omitempty"`
	Environment map[string]string   `json:"environment,omitempty"`

	// Origin is the configuration repository this definition was read
	// from, if any. Its history is refreshed before every manual
	// trigger since the definition itself may just have changed.
	Origin *material.Material `json:"origin,omitempty"`
}

// Stage is one stage of a pipeline.
type Stage struct {
	Name     string   `json:"name"`
	Approval Approval `json:"approval,omitempty"`
	Jobs     []Job    `json:"jobs"`
}

// Approval says how a stage is started.
type Approval string

const (
	// ApprovalSuccess starts the stage when the previous one passes.
	// For the first stage it means the pipeline may be scheduled
	// automatically.
	ApprovalSuccess Approval = "success"

	// ApprovalManual starts the stage only on an operator's request.
	// A pipeline whose first stage is manual is never scheduled by
	// change detection or timers.
	ApprovalManual Approval = "manual"
)

// Job is a unit of work within a stage. Jobs are carried through to
// instances but not executed here.
type Job struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands,omitempty"`
}

// Timer schedules a pipeline on a cron specification.
type Timer struct {
	Spec string `json:"spec"`

	// OnlyOnChanges suppresses timer runs when no material changed
	// since the last run.
	OnlyOnChanges bool `json:"only_on_changes,omitempty"`
}

// applyDefaults fills in values a definition may omit.
func (p *Pipeline) applyDefaults() {
	if p.LabelTemplate == "" {
		p.LabelTemplate = DefaultLabelTemplate
	}
	for index := range p.Stages {
		if p.Stages[index].Approval == "" {
			p.Stages[index].Approval = ApprovalSuccess
		}
	}
	for index := range p.Materials {
		m := &p.Materials[index]
		if m.Kind == material.Dependency && m.Name == "" {
			m.Name = m.Pipeline
		}
	}
}

// FirstStage returns the first stage, or false for a pipeline with no
// stages.
func (p *Pipeline) FirstStage() (Stage, bool) {
	if len(p.Stages) == 0 {
		return Stage{}, false
	}
	return p.Stages[0], true
}

// ManualFirstStage reports whether the first stage needs an operator.
func (p *Pipeline) ManualFirstStage() bool {
	stage, ok := p.FirstStage()
	return ok && stage.Approval == ApprovalManual
}

// Stage returns the named stage, compared case-insensitively.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	for _, stage := range p.Stages {
		if strings.EqualFold(stage.Name, name) {
			return stage, true
		}
	}
	return Stage{}, false
}

// MaterialByFingerprint finds the configured material a requested
// fingerprint refers to. The pipeline-unique fingerprint is tried
// first, then the plain fingerprint.
func (p *Pipeline) MaterialByFingerprint(fingerprint string) (material.Material, bool) {
	for _, m := range p.Materials {
		if m.PipelineUniqueFingerprint() == fingerprint {
			return m, true
		}
	}
	for _, m := range p.Materials {
		if m.Fingerprint() == fingerprint {
			return m, true
		}
	}
	return material.Material{}, false
}

// Uses reports whether fingerprint identifies one of the pipeline's
// materials or its origin.
func (p *Pipeline) Uses(fingerprint string) bool {
	if _, ok := p.MaterialByFingerprint(fingerprint); ok {
		return true
	}
	return p.Origin != nil && p.Origin.Fingerprint() == fingerprint
}

// DependsOn reports whether the pipeline has a dependency material on
// the given upstream stage.
func (p *Pipeline) DependsOn(pipeline, stage string) bool {
	for _, m := range p.Materials {
		if m.Kind == material.Dependency &&
			strings.EqualFold(m.Pipeline, pipeline) &&
			strings.EqualFold(m.Stage, stage) {
			return true
		}
	}
	return false
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline %s (%d materials, %d stages)", p.Name, len(p.Materials), len(p.Stages))
}

// PipelineNotFoundError is returned when a pipeline name is not
// configured.
type PipelineNotFoundError struct {
	Name string
}

func (e *PipelineNotFoundError) Error() string {
	return fmt.Sprintf("Pipeline '%s' not found", e.Name)
}

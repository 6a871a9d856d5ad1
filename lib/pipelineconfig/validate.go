// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelineconfig

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/cron"
	"github.com/bureau-foundation/conveyor/lib/material"
)

// namePattern matches pipeline, stage, job, and material names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]{0,254}$`)

// environmentPattern matches environment variable names.
var environmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks one pipeline in isolation. Returns human-readable
// issue descriptions; an empty list means the pipeline is valid.
//
// Checks:
//   - the name is well formed
//   - at least one material, each valid, no two with the same
//     fingerprint or the same name (one source checked out into two
//     folders is a duplicate)
//   - more than one source control material requires distinct,
//     non-nested destination folders
//   - at least one stage with a unique name, a known approval type,
//     and at least one uniquely named job
//   - the timer spec parses
//   - the label template only references COUNT and material names
//   - environment variable names are identifiers
func Validate(pipeline *Pipeline) []string {
	var issues []string
	prefix := fmt.Sprintf("pipeline %q", pipeline.Name)
	add := func(format string, args ...any) {
		issues = append(issues, prefix+": "+fmt.Sprintf(format, args...))
	}

	if !namePattern.MatchString(pipeline.Name) {
		add("invalid name (letters, digits, '_', '-', '.'; at most 255 characters)")
	}

	if len(pipeline.Materials) == 0 {
		add("no materials (at least one is required)")
	}
	fingerprints := make(map[string]int)
	names := make(map[string]int)
	var folders []string
	scmCount := 0
	for index, m := range pipeline.Materials {
		if err := m.Validate(); err != nil {
			add("materials[%d]: %v", index, err)
			continue
		}
		if m.Name != "" {
			if !namePattern.MatchString(m.Name) {
				add("materials[%d]: invalid name %q", index, m.Name)
			}
			key := strings.ToLower(m.Name)
			if first, exists := names[key]; exists {
				add("materials[%d]: duplicate material name %q (first used at materials[%d])", index, m.Name, first)
			} else {
				names[key] = index
			}
		}
		fingerprint := m.Fingerprint()
		if first, exists := fingerprints[fingerprint]; exists {
			add("materials[%d]: duplicate of materials[%d] (same source and branch)", index, first)
		} else {
			fingerprints[fingerprint] = index
		}
		if m.Kind.IsSCM() {
			scmCount++
			folders = append(folders, m.Folder)
		}
	}
	if scmCount > 1 {
		issues = append(issues, folderIssues(prefix, folders)...)
	}

	if len(pipeline.Stages) == 0 {
		add("no stages (at least one is required)")
	}
	stageNames := make(map[string]int)
	for index, stage := range pipeline.Stages {
		if !namePattern.MatchString(stage.Name) {
			add("stages[%d]: invalid name %q", index, stage.Name)
		}
		key := strings.ToLower(stage.Name)
		if first, exists := stageNames[key]; exists {
			add("stages[%d] %q: duplicate stage name (first used at stages[%d])", index, stage.Name, first)
		} else {
			stageNames[key] = index
		}
		switch stage.Approval {
		case ApprovalSuccess, ApprovalManual, "":
		default:
			add("stages[%d] %q: unknown approval %q (want %q or %q)", index, stage.Name, stage.Approval, ApprovalSuccess, ApprovalManual)
		}
		if len(stage.Jobs) == 0 {
			add("stages[%d] %q: no jobs (at least one is required)", index, stage.Name)
		}
		jobNames := make(map[string]bool)
		for jobIndex, job := range stage.Jobs {
			if !namePattern.MatchString(job.Name) {
				add("stages[%d].jobs[%d]: invalid name %q", index, jobIndex, job.Name)
			}
			if jobNames[strings.ToLower(job.Name)] {
				add("stages[%d].jobs[%d]: duplicate job name %q", index, jobIndex, job.Name)
			}
			jobNames[strings.ToLower(job.Name)] = true
		}
	}

	if pipeline.Timer != nil {
		if _, err := cron.Parse(pipeline.Timer.Spec); err != nil {
			add("timer: %v", err)
		}
	}

	for _, reference := range LabelReferences(pipeline.LabelTemplate) {
		if strings.EqualFold(reference, "COUNT") {
			continue
		}
		if _, exists := names[strings.ToLower(reference)]; !exists {
			add("label template references unknown material %q", reference)
		}
	}

	for name := range pipeline.Environment {
		if !environmentPattern.MatchString(name) {
			add("environment: invalid variable name %q", name)
		}
	}

	if pipeline.Origin != nil {
		if err := pipeline.Origin.Validate(); err != nil {
			add("origin: %v", err)
		} else if !pipeline.Origin.Kind.IsSCM() {
			add("origin: %s is not a source control material", pipeline.Origin.Kind)
		}
	}

	return issues
}

// folderIssues requires every folder to be set, distinct, and not
// inside another.
func folderIssues(prefix string, folders []string) []string {
	var issues []string
	cleaned := make([]string, len(folders))
	for index, folder := range folders {
		cleaned[index] = strings.Trim(strings.ReplaceAll(folder, `\`, "/"), "/")
		if cleaned[index] == "" {
			issues = append(issues, prefix+": multiple source control materials require each to set a destination folder")
			return issues
		}
	}
	for index, current := range cleaned {
		for _, previous := range cleaned[:index] {
			if previous == current || strings.HasPrefix(current, previous+"/") || strings.HasPrefix(previous, current+"/") {
				issues = append(issues, fmt.Sprintf("%s: destination folder %q overlaps %q", prefix, current, previous))
			}
		}
	}
	return issues
}

// validateSet checks relations between pipelines: unique names,
// dependency targets that exist, and no dependency cycles.
func validateSet(pipelines []*Pipeline) []string {
	var issues []string
	byName := make(map[string]*Pipeline, len(pipelines))
	for _, pipeline := range pipelines {
		key := strings.ToLower(pipeline.Name)
		if _, exists := byName[key]; exists {
			issues = append(issues, fmt.Sprintf("pipeline %q: defined more than once", pipeline.Name))
			continue
		}
		byName[key] = pipeline
	}

	for _, pipeline := range pipelines {
		for _, m := range pipeline.Materials {
			if m.Kind != material.Dependency {
				continue
			}
			upstream, exists := byName[strings.ToLower(m.Pipeline)]
			switch {
			case !exists:
				issues = append(issues, fmt.Sprintf("pipeline %q: depends on unknown pipeline %q", pipeline.Name, m.Pipeline))
			case upstream == pipeline:
				issues = append(issues, fmt.Sprintf("pipeline %q: depends on itself", pipeline.Name))
			default:
				if _, ok := upstream.Stage(m.Stage); !ok {
					issues = append(issues, fmt.Sprintf("pipeline %q: depends on unknown stage %q of pipeline %q", pipeline.Name, m.Stage, m.Pipeline))
				}
			}
		}
	}

	if cycle := findCycle(pipelines, byName); cycle != nil {
		issues = append(issues, "dependency cycle: "+strings.Join(cycle, " -> "))
	}
	return issues
}

// findCycle returns the pipeline names along one dependency cycle, or
// nil. Self-dependencies are reported separately and skipped here.
func findCycle(pipelines []*Pipeline, byName map[string]*Pipeline) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Pipeline]int, len(pipelines))
	var path []string

	var visit func(pipeline *Pipeline) []string
	visit = func(pipeline *Pipeline) []string {
		state[pipeline] = visiting
		path = append(path, pipeline.Name)
		for _, m := range pipeline.Materials {
			if m.Kind != material.Dependency {
				continue
			}
			upstream, exists := byName[strings.ToLower(m.Pipeline)]
			if !exists || upstream == pipeline {
				continue
			}
			switch state[upstream] {
			case visiting:
				start := slices.Index(path, upstream.Name)
				return append(slices.Clone(path[start:]), upstream.Name)
			case unvisited:
				if cycle := visit(upstream); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[pipeline] = done
		return nil
	}

	for _, pipeline := range pipelines {
		if state[pipeline] == unvisited {
			if cycle := visit(pipeline); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

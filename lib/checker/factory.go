// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checker

import (
	"context"
	"fmt"
	"slices"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
)

// MaterialNotFoundError reports a requested fingerprint that matches no
// material of the pipeline.
type MaterialNotFoundError struct {
	Fingerprint string
	Pipeline    string
}

func (e *MaterialNotFoundError) Error() string {
	return fmt.Sprintf("Material with fingerprint [%s] for pipeline [%s] does not exist", e.Fingerprint, e.Pipeline)
}

// ConfigSource provides the current configuration snapshot.
type ConfigSource interface {
	Current() *pipelineconfig.Snapshot
}

// SpecificRevisionFactory builds the revision set of a manual run that
// pins some materials to operator-chosen revisions.
type SpecificRevisionFactory struct {
	checker *Checker
	configs ConfigSource
}

// NewSpecificRevisionFactory returns a factory resolving tokens with
// checker against pipelines from configs.
func NewSpecificRevisionFactory(checker *Checker, configs ConfigSource) *SpecificRevisionFactory {
	return &SpecificRevisionFactory{checker: checker, configs: configs}
}

// Check reports the first requested fingerprint, in sorted order, that
// matches no material of pipeline. It resolves no tokens.
func (f *SpecificRevisionFactory) Check(pipeline *pipelineconfig.Pipeline, requested map[string]string) error {
	_, err := pinnedTokens(pipeline, requested)
	return err
}

// Create resolves requested (fingerprint → revision token) for
// pipelineName. A fingerprint matches a material's pipeline-unique
// fingerprint first, then its plain fingerprint. Every fingerprint is
// checked before any token is resolved. Materials not named in
// requested take their latest modification. The result follows the
// pipeline's material order.
func (f *SpecificRevisionFactory) Create(ctx context.Context, pipelineName string, requested map[string]string) (buildcause.MaterialRevisions, error) {
	pipeline, err := f.configs.Current().Pipeline(pipelineName)
	if err != nil {
		return nil, err
	}
	pinned, err := pinnedTokens(pipeline, requested)
	if err != nil {
		return nil, err
	}

	revisions := make(buildcause.MaterialRevisions, 0, len(pipeline.Materials))
	for _, m := range pipeline.Materials {
		var revision buildcause.MaterialRevision
		if token, ok := pinned[m.PipelineUniqueFingerprint()]; ok {
			revision, err = f.checker.FindSpecificRevision(ctx, m, token)
		} else {
			revision, err = f.checker.latest(ctx, m, false)
		}
		if err != nil {
			return nil, err
		}
		revisions.Add(revision)
	}
	return revisions, nil
}

// pinnedTokens re-keys requested by pipeline-unique fingerprint.
func pinnedTokens(pipeline *pipelineconfig.Pipeline, requested map[string]string) (map[string]string, error) {
	pinned := make(map[string]string, len(requested))
	fingerprints := make([]string, 0, len(requested))
	for fingerprint := range requested {
		fingerprints = append(fingerprints, fingerprint)
	}
	slices.Sort(fingerprints)
	for _, fingerprint := range fingerprints {
		m, ok := pipeline.MaterialByFingerprint(fingerprint)
		if !ok {
			return nil, &MaterialNotFoundError{Fingerprint: fingerprint, Pipeline: pipeline.Name}
		}
		pinned[m.PipelineUniqueFingerprint()] = requested[fingerprint]
	}
	return pinned, nil
}

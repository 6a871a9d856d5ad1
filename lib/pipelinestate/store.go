// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelinestate persists what the scheduler knows about each
// pipeline between evaluations: the last computed build cause (with a
// version for optimistic replacement), the instances created so far,
// the newest modification each pipeline has built per material, and
// pause state.
package pipelinestate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/conveyor/lib/blobcodec"
	"github.com/bureau-foundation/conveyor/lib/buildcause"
)

// ErrVersionConflict is returned by ReplaceCause when the stored
// version is not the expected one.
var ErrVersionConflict = errors.New("pipelinestate: last build cause changed concurrently")

// ErrNotFound is returned for a lookup with no stored value.
var ErrNotFound = errors.New("pipelinestate: not found")

// Instance is one created pipeline run.
type Instance struct {
	ID        string                 `json:"id" cbor:"id"`
	Pipeline  string                 `json:"pipeline" cbor:"pipeline"`
	Counter   int64                  `json:"counter" cbor:"counter"`
	Label     string                 `json:"label" cbor:"label"`
	Cause     *buildcause.BuildCause `json:"cause" cbor:"cause"`
	CreatedAt time.Time              `json:"created_at" cbor:"created_at"`
}

// InstanceRequest asks for a new instance. Label receives the counter
// assigned to the instance.
type InstanceRequest struct {
	ID        string
	Pipeline  string
	Cause     *buildcause.BuildCause
	Label     func(counter int64) string
	CreatedAt time.Time
}

// Pause records who paused a pipeline and why.
type Pause struct {
	Pipeline string    `json:"pipeline" cbor:"pipeline"`
	By       string    `json:"by" cbor:"by"`
	Reason   string    `json:"reason,omitempty" cbor:"reason,omitempty"`
	At       time.Time `json:"at" cbor:"at"`
}

// Store is the pipeline state backend. Pipeline names are used as
// given; callers pass the configured spelling.
type Store interface {
	// LastCause returns the stored cause and its version. Version 0
	// with a nil cause means nothing is stored.
	LastCause(ctx context.Context, pipeline string) (*buildcause.BuildCause, int64, error)

	// ReplaceCause stores cause if the current version equals
	// expected, returning the new version.
	ReplaceCause(ctx context.Context, pipeline string, expected int64, cause *buildcause.BuildCause) (int64, error)

	// CreateInstance assigns the next counter, stores the instance, and
	// raises the built modification IDs to cover the cause.
	CreateInstance(ctx context.Context, request InstanceRequest) (Instance, error)

	// LatestInstance returns the instance with the highest counter, or
	// ErrNotFound.
	LatestInstance(ctx context.Context, pipeline string) (Instance, error)

	// Instances returns up to limit instances, newest first.
	Instances(ctx context.Context, pipeline string, limit int) ([]Instance, error)

	// BuiltModificationIDs returns, per material fingerprint, the
	// largest modification ID any instance of pipeline has built.
	BuiltModificationIDs(ctx context.Context, pipeline string) (map[string]int64, error)

	// Pause marks pipeline paused. Pausing a paused pipeline replaces
	// the record.
	Pause(ctx context.Context, pause Pause) error

	// Unpause clears the pause. It reports whether one existed.
	Unpause(ctx context.Context, pipeline string) (bool, error)

	// PauseState returns the pause record, or ErrNotFound when the
	// pipeline is not paused.
	PauseState(ctx context.Context, pipeline string) (Pause, error)

	// Pauses returns every pause record sorted by pipeline.
	Pauses(ctx context.Context) ([]Pause, error)
}

// builtIDs returns the newest modification ID per fingerprint in cause.
func builtIDs(cause *buildcause.BuildCause) map[string]int64 {
	ids := make(map[string]int64)
	if cause == nil {
		return ids
	}
	for _, revision := range cause.Revisions {
		if id := revision.Modifications.MaxID(); id > 0 {
			fingerprint := revision.Fingerprint()
			ids[fingerprint] = max(ids[fingerprint], id)
		}
	}
	return ids
}

// packCause encodes and compresses a cause for storage.
func packCause(cause *buildcause.BuildCause) (blobcodec.Tag, []byte, int, error) {
	encoded, err := cause.Marshal()
	if err != nil {
		return 0, nil, 0, fmt.Errorf("encoding build cause: %w", err)
	}
	tag, packed, err := blobcodec.Pack(encoded)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("compressing build cause: %w", err)
	}
	return tag, packed, len(encoded), nil
}

func unpackCause(tag blobcodec.Tag, packed []byte, size int) (*buildcause.BuildCause, error) {
	encoded, err := blobcodec.Unpack(tag, packed, size)
	if err != nil {
		return nil, fmt.Errorf("decompressing build cause: %w", err)
	}
	return buildcause.Unmarshal(encoded)
}

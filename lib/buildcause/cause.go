// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcause

import (
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/conveyor/lib/codec"
	"github.com/bureau-foundation/conveyor/lib/material"
)

// Trigger is what started the evaluation that produced a cause.
type Trigger string

const (
	TriggerAuto     Trigger = "auto"
	TriggerManual   Trigger = "manual"
	TriggerTimer    Trigger = "timer"
	TriggerUpstream Trigger = "upstream"
)

// Approvers recorded for causes not started by a user.
const (
	ApproverChanges = "changes"
	ApproverTimer   = "timer"
)

// BuildCause is the revision snapshot and provenance of a pipeline run.
// Once enqueued it is never modified; the queue holds its own copy.
type BuildCause struct {
	ID        string            `json:"id" cbor:"id"`
	Revisions MaterialRevisions `json:"revisions" cbor:"revisions"`
	Trigger   Trigger           `json:"trigger" cbor:"trigger"`
	Approver  string            `json:"approver" cbor:"approver"`
	Message   string            `json:"message" cbor:"message"`
	Forced    bool              `json:"forced,omitempty" cbor:"forced,omitempty"`

	// MaterialsFingerprint identifies the material configuration the
	// cause was computed against. See MaterialsFingerprint.
	MaterialsFingerprint string `json:"materials_fingerprint" cbor:"materials_fingerprint"`

	Environment map[string]string `json:"environment,omitempty" cbor:"environment,omitempty"`
	CreatedAt   time.Time         `json:"created_at" cbor:"created_at"`
}

// NewAutomatic builds a cause for a change-driven trigger. The message
// names the first changed material.
func NewAutomatic(trigger Trigger, revisions MaterialRevisions, materials []material.Material, now time.Time) *BuildCause {
	return newCause(trigger, revisions, materials, ApproverChanges, revisions.Message(), now)
}

// NewManual builds a forced cause approved by user.
func NewManual(revisions MaterialRevisions, materials []material.Material, user string, now time.Time) *BuildCause {
	cause := newCause(TriggerManual, revisions, materials, user, "Forced by "+user, now)
	cause.Forced = true
	return cause
}

// NewTimer builds a cause for a timer trigger.
func NewTimer(revisions MaterialRevisions, materials []material.Material, now time.Time) *BuildCause {
	return newCause(TriggerTimer, revisions, materials, ApproverTimer, "Timer triggered", now)
}

func newCause(trigger Trigger, revisions MaterialRevisions, materials []material.Material, approver, message string, now time.Time) *BuildCause {
	return &BuildCause{
		ID:                   uuid.NewString(),
		Revisions:            revisions,
		Trigger:              trigger,
		Approver:             approver,
		Message:              message,
		MaterialsFingerprint: MaterialsFingerprint(materials),
		CreatedAt:            now,
	}
}

// MaterialsFingerprint hashes the sorted pipeline-unique fingerprints
// of a material configuration. Reordering materials does not change it;
// adding, removing, or re-pointing one does.
func MaterialsFingerprint(materials []material.Material) string {
	fingerprints := make([]string, len(materials))
	for index, m := range materials {
		fingerprints[index] = m.PipelineUniqueFingerprint()
	}
	slices.Sort(fingerprints)

	hasher, err := blake3.NewKeyed(materialsKey[:])
	if err != nil {
		panic("buildcause: blake3 key: " + err.Error())
	}
	for _, fingerprint := range fingerprints {
		hasher.Write([]byte(fingerprint))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

var materialsKey = domainKey("conveyor.buildcause.materials")

// IsChanged reports whether any revision is flagged changed.
func (c *BuildCause) IsChanged() bool {
	return c != nil && c.Revisions.AnyChanged()
}

// ComputedAgainst reports whether the cause was computed against the
// given material configuration.
func (c *BuildCause) ComputedAgainst(materials []material.Material) bool {
	return c != nil && c.MaterialsFingerprint == MaterialsFingerprint(materials)
}

// Validate rejects causes that cannot be scheduled: no revisions, or a
// material with no modifications at all.
func (c *BuildCause) Validate() error {
	if c == nil || len(c.Revisions) == 0 {
		return fmt.Errorf("build cause has no material revisions")
	}
	if empty := c.Revisions.Empty(); len(empty) > 0 {
		names := make([]string, len(empty))
		for index, revision := range empty {
			names[index] = revision.Material.DisplayName()
		}
		return fmt.Errorf("no modifications found for %v", names)
	}
	return nil
}

// Clone returns a deep copy.
func (c *BuildCause) Clone() *BuildCause {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Revisions = c.Revisions.Clone()
	clone.Environment = maps.Clone(c.Environment)
	return &clone
}

// Equal compares revision snapshots and materials fingerprints.
// Provenance is not compared.
func (c *BuildCause) Equal(other *BuildCause) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.MaterialsFingerprint == other.MaterialsFingerprint && c.Revisions.Equal(other.Revisions)
}

// Marshal encodes the cause as CBOR for storage.
func (c *BuildCause) Marshal() ([]byte, error) {
	return codec.Marshal(c)
}

// Unmarshal decodes a cause written by Marshal.
func Unmarshal(data []byte) (*BuildCause, error) {
	var cause BuildCause
	if err := codec.Unmarshal(data, &cause); err != nil {
		return nil, fmt.Errorf("decoding build cause: %w", err)
	}
	return &cause, nil
}

func (c *BuildCause) String() string {
	if c == nil {
		return "<no build cause>"
	}
	return fmt.Sprintf("[%s] %s by %s", c.Trigger, c.Message, c.Approver)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcause

import (
	"encoding/binary"
	"encoding/hex"
	"slices"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/conveyor/lib/material"
)

// Snapshot is the identity of a MaterialRevision.
type Snapshot struct {
	Material      material.Material      `json:"material" cbor:"material"`
	Modifications material.Modifications `json:"modifications" cbor:"modifications"`
}

// Status is the out-of-band state of a MaterialRevision. It is not
// part of the revision's identity.
type Status struct {
	Changed bool `json:"changed" cbor:"changed"`
}

// MaterialRevision is one material with the modifications found for it,
// newest first.
type MaterialRevision struct {
	Snapshot
	Status Status `json:"status" cbor:"status"`
}

// NewMaterialRevision builds a revision from its parts.
func NewMaterialRevision(m material.Material, changed bool, mods ...material.Modification) MaterialRevision {
	return MaterialRevision{
		Snapshot: Snapshot{Material: m, Modifications: material.Modifications(mods)},
		Status:   Status{Changed: changed},
	}
}

// Fingerprint is the material's fingerprint.
func (r MaterialRevision) Fingerprint() string {
	return r.Material.Fingerprint()
}

// IsEmpty reports whether the revision has no modifications. Only a
// material with no history at all produces one.
func (r MaterialRevision) IsEmpty() bool {
	return len(r.Modifications) == 0
}

// IsChanged reports the status flag.
func (r MaterialRevision) IsChanged() bool {
	return r.Status.Changed
}

// WithChanged returns a copy of r with the status flag set.
func (r MaterialRevision) WithChanged(changed bool) MaterialRevision {
	r.Status.Changed = changed
	return r
}

// Latest returns the newest modification.
func (r MaterialRevision) Latest() (material.Modification, bool) {
	return r.latest()
}

// Revision is the token of the newest modification, or "" when empty.
// Materials whose tokens are totally ordered pick the largest token;
// the rest take index 0.
func (r MaterialRevision) Revision() string {
	mod, _ := r.latest()
	return mod.Revision
}

// OldestRevision is the token of the oldest modification.
func (r MaterialRevision) OldestRevision() string {
	if len(r.Modifications) == 0 {
		return ""
	}
	ordering := r.Material.Ordering()
	if !ordering.Total() {
		return r.Modifications[len(r.Modifications)-1].Revision
	}
	oldest := slices.MinFunc(r.Modifications, func(a, b material.Modification) int {
		return ordering.Compare(a.Revision, b.Revision)
	})
	return oldest.Revision
}

// ShortRevision is Revision truncated to twelve characters.
func (r MaterialRevision) ShortRevision() string {
	revision := r.Revision()
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

// LatestUser is the author of the newest modification.
func (r MaterialRevision) LatestUser() string {
	mod, _ := r.latest()
	return mod.Username
}

// LatestModifiedTime is the time of the newest modification.
func (r MaterialRevision) LatestModifiedTime() time.Time {
	mod, _ := r.latest()
	return mod.ModifiedTime
}

func (r MaterialRevision) latest() (material.Modification, bool) {
	if len(r.Modifications) == 0 {
		return material.Modification{}, false
	}
	ordering := r.Material.Ordering()
	if !ordering.Total() {
		return r.Modifications[0], true
	}
	return slices.MaxFunc(r.Modifications, func(a, b material.Modification) int {
		return ordering.Compare(a.Revision, b.Revision)
	}), true
}

// Message describes why this revision would trigger a run.
func (r MaterialRevision) Message() string {
	if r.Material.Kind == material.Dependency {
		return "triggered by " + r.Revision()
	}
	return "modified by " + r.LatestUser()
}

// Equal compares snapshots. The changed flag is ignored.
func (r MaterialRevision) Equal(other MaterialRevision) bool {
	return r.Material.Equal(other.Material) && r.Modifications.Equal(other.Modifications)
}

// Key is a hash of the snapshot: equal revisions have equal keys.
func (r MaterialRevision) Key() string {
	hasher, err := blake3.NewKeyed(revisionKey[:])
	if err != nil {
		panic("buildcause: blake3 key: " + err.Error())
	}
	r.writeKey(hasher)
	return hex.EncodeToString(hasher.Sum(nil))
}

var revisionKey = domainKey("conveyor.buildcause.revision")

func domainKey(name string) [32]byte {
	var key [32]byte
	copy(key[:], name)
	return key
}

// writeKey feeds exactly the fields Equal compares, each length
// prefixed so adjacent fields cannot run together.
func (r MaterialRevision) writeKey(hasher *blake3.Hasher) {
	writeString := func(value string) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(value)))
		hasher.Write(length[:])
		hasher.Write([]byte(value))
	}
	writeBool := func(value bool) {
		if value {
			writeString("1")
		} else {
			writeString("0")
		}
	}

	m := r.Material
	writeString(m.PipelineUniqueFingerprint())
	writeString(m.Name)
	writeString(m.EncryptedPassword)
	writeBool(m.IsAutoUpdate())
	writeString(m.Filter.String())

	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(r.Modifications)))
	hasher.Write(count[:])
	for _, mod := range r.Modifications {
		writeString(mod.Revision)
		writeString(mod.Username)
		writeString(mod.Email)
		writeString(mod.Comment)
		writeString(mod.ModifiedTime.UTC().Format(time.RFC3339Nano))
		writeString(mod.PipelineLabel)
		binary.BigEndian.PutUint64(count[:], uint64(len(mod.Files)))
		hasher.Write(count[:])
		for _, file := range mod.Files {
			writeString(file.Path)
			writeString(string(file.Action))
		}
	}
}

// Filter returns previous, flagged unchanged, when the material's
// filter ignores every modification of r, and r otherwise.
func (r MaterialRevision) Filter(previous MaterialRevision) MaterialRevision {
	if r.Material.Filter.IgnoresAll(r.Modifications) {
		return previous.WithChanged(false)
	}
	return r
}

// Subtract returns r with the modifications whose revision token also
// appears in other removed.
func (r MaterialRevision) Subtract(other MaterialRevision) MaterialRevision {
	result := r
	result.Modifications = nil
	for _, mod := range r.Modifications {
		if !other.Modifications.Contains(mod.Revision) {
			result.Modifications = append(result.Modifications, mod.Clone())
		}
	}
	return result
}

// Intersect returns r keeping only the modifications whose revision
// token also appears in other.
func (r MaterialRevision) Intersect(other MaterialRevision) MaterialRevision {
	result := r
	result.Modifications = nil
	for _, mod := range r.Modifications {
		if other.Modifications.Contains(mod.Revision) {
			result.Modifications = append(result.Modifications, mod.Clone())
		}
	}
	return result
}

// Union returns r extended with the modifications of other it does not
// already contain, newest first. Totally ordered materials sort by
// token; the rest sort by modified time, keeping history order for
// ties.
func (r MaterialRevision) Union(other MaterialRevision) MaterialRevision {
	result := r
	result.Modifications = r.Modifications.Clone()
	for _, mod := range other.Modifications {
		if !result.Modifications.Contains(mod.Revision) {
			result.Modifications = append(result.Modifications, mod.Clone())
		}
	}
	ordering := r.Material.Ordering()
	if ordering.Total() {
		slices.SortStableFunc(result.Modifications, func(a, b material.Modification) int {
			return ordering.Compare(b.Revision, a.Revision)
		})
	} else {
		slices.SortStableFunc(result.Modifications, func(a, b material.Modification) int {
			return b.ModifiedTime.Compare(a.ModifiedTime)
		})
	}
	result.Status.Changed = r.Status.Changed || other.Status.Changed
	return result
}

// NewerThan returns the modifications whose stored ID is greater
// than id.
func (r MaterialRevision) NewerThan(id int64) material.Modifications {
	var newer material.Modifications
	for _, mod := range r.Modifications {
		if mod.ID > id {
			newer = append(newer, mod)
		}
	}
	return newer
}

// Clone returns a deep copy.
func (r MaterialRevision) Clone() MaterialRevision {
	return MaterialRevision{
		Snapshot: Snapshot{
			Material:      r.Material.Clone(),
			Modifications: r.Modifications.Clone(),
		},
		Status: r.Status,
	}
}

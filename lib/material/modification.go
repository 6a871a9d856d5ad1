// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package material

import (
	"slices"
	"time"
)

// FileAction is what a modification did to a file.
type FileAction string

const (
	FileAdded    FileAction = "added"
	FileModified FileAction = "modified"
	FileDeleted  FileAction = "deleted"
	FileRenamed  FileAction = "renamed"
	FileUnknown  FileAction = "unknown"
)

// ModifiedFile is one changed path in a modification.
type ModifiedFile struct {
	Path   string     `json:"path" cbor:"path"`
	Action FileAction `json:"action" cbor:"action"`
}

// Modification is one change in a material's history.
type Modification struct {
	// ID is assigned by the history store when the modification is
	// first recorded. IDs grow with insertion order within a store, so
	// a larger ID is a later discovery. Zero means not yet stored.
	ID int64 `json:"id,omitempty" cbor:"id,omitempty"`

	// Revision is the material-specific token: a commit hash, a
	// changeset number, a package version, or for dependency
	// materials "pipeline/counter/stage/counter".
	Revision string `json:"revision" cbor:"revision"`

	Username     string    `json:"username,omitempty" cbor:"username,omitempty"`
	Email        string    `json:"email,omitempty" cbor:"email,omitempty"`
	Comment      string    `json:"comment,omitempty" cbor:"comment,omitempty"`
	ModifiedTime time.Time `json:"modified_time" cbor:"modified_time"`

	// PipelineLabel is the upstream pipeline label of a dependency
	// modification.
	PipelineLabel string `json:"pipeline_label,omitempty" cbor:"pipeline_label,omitempty"`

	Files []ModifiedFile `json:"files,omitempty" cbor:"files,omitempty"`
}

// Equal compares two modifications by content. ID is a storage detail
// and is not compared.
func (m Modification) Equal(other Modification) bool {
	return m.Revision == other.Revision &&
		m.Username == other.Username &&
		m.Email == other.Email &&
		m.Comment == other.Comment &&
		m.ModifiedTime.Equal(other.ModifiedTime) &&
		m.PipelineLabel == other.PipelineLabel &&
		slices.Equal(m.Files, other.Files)
}

// Clone returns a copy with its own file slice.
func (m Modification) Clone() Modification {
	clone := m
	clone.Files = slices.Clone(m.Files)
	return clone
}

// Modifications is a history fragment, newest first.
type Modifications []Modification

// Latest returns the newest modification.
func (mods Modifications) Latest() (Modification, bool) {
	if len(mods) == 0 {
		return Modification{}, false
	}
	return mods[0], true
}

// Oldest returns the oldest modification.
func (mods Modifications) Oldest() (Modification, bool) {
	if len(mods) == 0 {
		return Modification{}, false
	}
	return mods[len(mods)-1], true
}

// Find returns the modification with the given revision token.
func (mods Modifications) Find(revision string) (Modification, bool) {
	for _, mod := range mods {
		if mod.Revision == revision {
			return mod, true
		}
	}
	return Modification{}, false
}

// Contains reports whether a modification with the token is present.
func (mods Modifications) Contains(revision string) bool {
	_, found := mods.Find(revision)
	return found
}

// Revisions returns the revision tokens in order.
func (mods Modifications) Revisions() []string {
	revisions := make([]string, len(mods))
	for index, mod := range mods {
		revisions[index] = mod.Revision
	}
	return revisions
}

// MaxID returns the largest stored ID, or zero if none is stored.
func (mods Modifications) MaxID() int64 {
	var largest int64
	for _, mod := range mods {
		largest = max(largest, mod.ID)
	}
	return largest
}

// Equal compares two lists element by element.
func (mods Modifications) Equal(other Modifications) bool {
	return slices.EqualFunc(mods, other, Modification.Equal)
}

// Clone deep-copies the list.
func (mods Modifications) Clone() Modifications {
	if mods == nil {
		return nil
	}
	clone := make(Modifications, len(mods))
	for index, mod := range mods {
		clone[index] = mod.Clone()
	}
	return clone
}

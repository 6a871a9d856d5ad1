// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcause

import (
	"encoding/hex"
	"slices"
	"time"

	"github.com/zeebo/blake3"
)

// MaterialRevisions is the ordered set of revisions for a pipeline.
// A fingerprint appears at most once.
type MaterialRevisions []MaterialRevision

// Add appends revision, or replaces in place the entry that has the
// same fingerprint.
func (rs *MaterialRevisions) Add(revision MaterialRevision) {
	if index := rs.Index(revision.Fingerprint()); index >= 0 {
		(*rs)[index] = revision
		return
	}
	*rs = append(*rs, revision)
}

// Index returns the position of the entry with the fingerprint, or -1.
func (rs MaterialRevisions) Index(fingerprint string) int {
	return slices.IndexFunc(rs, func(r MaterialRevision) bool {
		return r.Fingerprint() == fingerprint
	})
}

// Find returns the entry with the fingerprint.
func (rs MaterialRevisions) Find(fingerprint string) (MaterialRevision, bool) {
	if index := rs.Index(fingerprint); index >= 0 {
		return rs[index], true
	}
	return MaterialRevision{}, false
}

// Fingerprints lists the material fingerprints in order.
func (rs MaterialRevisions) Fingerprints() []string {
	fingerprints := make([]string, len(rs))
	for index, revision := range rs {
		fingerprints[index] = revision.Fingerprint()
	}
	return fingerprints
}

// AnyChanged reports whether at least one entry is flagged changed.
func (rs MaterialRevisions) AnyChanged() bool {
	return slices.ContainsFunc(rs, MaterialRevision.IsChanged)
}

// Empty returns the entries that have no modifications.
func (rs MaterialRevisions) Empty() MaterialRevisions {
	var empty MaterialRevisions
	for _, revision := range rs {
		if revision.IsEmpty() {
			empty = append(empty, revision)
		}
	}
	return empty
}

// Filter applies MaterialRevision.Filter entry by entry against the
// previous entry with the same fingerprint. Entries with no previous
// counterpart are kept.
func (rs MaterialRevisions) Filter(previous MaterialRevisions) MaterialRevisions {
	result := make(MaterialRevisions, 0, len(rs))
	for _, revision := range rs {
		if prior, ok := previous.Find(revision.Fingerprint()); ok {
			result = append(result, revision.Filter(prior))
		} else {
			result = append(result, revision)
		}
	}
	return result
}

// Subtract removes from each entry the modifications present in the
// other set's entry for the same fingerprint.
func (rs MaterialRevisions) Subtract(other MaterialRevisions) MaterialRevisions {
	result := make(MaterialRevisions, 0, len(rs))
	for _, revision := range rs {
		if counterpart, ok := other.Find(revision.Fingerprint()); ok {
			result = append(result, revision.Subtract(counterpart))
		} else {
			result = append(result, revision.Clone())
		}
	}
	return result
}

// Intersect keeps the fingerprints present in both sets and, within
// each, the modifications present in both.
func (rs MaterialRevisions) Intersect(other MaterialRevisions) MaterialRevisions {
	var result MaterialRevisions
	for _, revision := range rs {
		if counterpart, ok := other.Find(revision.Fingerprint()); ok {
			result = append(result, revision.Intersect(counterpart))
		}
	}
	return result
}

// Union merges the two sets. Entries of rs come first in their order,
// followed by entries only present in other.
func (rs MaterialRevisions) Union(other MaterialRevisions) MaterialRevisions {
	result := make(MaterialRevisions, 0, len(rs)+len(other))
	for _, revision := range rs {
		if counterpart, ok := other.Find(revision.Fingerprint()); ok {
			result = append(result, revision.Union(counterpart))
		} else {
			result = append(result, revision.Clone())
		}
	}
	for _, revision := range other {
		if rs.Index(revision.Fingerprint()) < 0 {
			result = append(result, revision.Clone())
		}
	}
	return result
}

// Equal compares entry by entry, in order, ignoring status.
func (rs MaterialRevisions) Equal(other MaterialRevisions) bool {
	return slices.EqualFunc(rs, other, MaterialRevision.Equal)
}

// Key hashes the entry keys in order.
func (rs MaterialRevisions) Key() string {
	hasher, err := blake3.NewKeyed(revisionsKey[:])
	if err != nil {
		panic("buildcause: blake3 key: " + err.Error())
	}
	for _, revision := range rs {
		hasher.Write([]byte(revision.Key()))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

var revisionsKey = domainKey("conveyor.buildcause.revisions")

// Message is the message of the first changed entry, or "No
// modifications" when none changed.
func (rs MaterialRevisions) Message() string {
	for _, revision := range rs {
		if revision.IsChanged() {
			return revision.Message()
		}
	}
	return "No modifications"
}

// LatestModifiedTime is the newest modification time across entries.
func (rs MaterialRevisions) LatestModifiedTime() time.Time {
	var latest time.Time
	for _, revision := range rs {
		if modified := revision.LatestModifiedTime(); modified.After(latest) {
			latest = modified
		}
	}
	return latest
}

// Clone returns a deep copy.
func (rs MaterialRevisions) Clone() MaterialRevisions {
	if rs == nil {
		return nil
	}
	clone := make(MaterialRevisions, len(rs))
	for index, revision := range rs {
		clone[index] = revision.Clone()
	}
	return clone
}

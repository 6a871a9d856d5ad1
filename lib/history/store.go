// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"

	"github.com/bureau-foundation/conveyor/lib/material"
)

// Reader answers history queries. Material arguments are identified by
// their fingerprint; a material that has never been recorded has an
// empty history.
type Reader interface {
	// LatestModification returns the newest modification of m. The
	// boolean is false when the history is empty.
	LatestModification(ctx context.Context, m material.Material) (material.Modification, bool, error)

	// ModificationsSince returns the modifications recorded after the
	// one carrying revision, newest first. An empty result means no
	// new changes. When revision is not in the history (rewritten
	// branch, purged store) only the latest modification is returned,
	// so callers never replay an unbounded backlog.
	ModificationsSince(ctx context.Context, m material.Material, revision string) (material.Modifications, error)

	// FindModification looks up the modification carrying revision.
	FindModification(ctx context.Context, m material.Material, revision string) (material.Modification, bool, error)

	// Recent returns up to limit of the newest modifications.
	Recent(ctx context.Context, m material.Material, limit int) (material.Modifications, error)
}

// Writer appends discovered modifications.
type Writer interface {
	// Record stores modifications (newest first, as pollers return
	// them). Revisions already in the history are skipped. IDs are
	// assigned oldest first so the sequence follows discovery order.
	// The returned slice holds the newly stored modifications with
	// their IDs, newest first.
	Record(ctx context.Context, m material.Material, mods material.Modifications) (material.Modifications, error)
}

// Store is a complete history backend.
type Store interface {
	Reader
	Writer
}

// newRecords returns the members of mods (newest first) whose revision
// is not already known, oldest first, dropping duplicates inside mods.
func newRecords(mods material.Modifications, known func(revision string) bool) material.Modifications {
	seen := make(map[string]bool, len(mods))
	var fresh material.Modifications
	for index := len(mods) - 1; index >= 0; index-- {
		modification := mods[index]
		if seen[modification.Revision] || known(modification.Revision) {
			continue
		}
		seen[modification.Revision] = true
		fresh = append(fresh, modification.Clone())
	}
	return fresh
}

func reversed(mods material.Modifications) material.Modifications {
	result := make(material.Modifications, len(mods))
	for index, modification := range mods {
		result[len(mods)-1-index] = modification
	}
	return result
}

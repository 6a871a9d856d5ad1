// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"sync"

	"github.com/bureau-foundation/conveyor/lib/material"
)

// MemoryStore is a Store held in process memory. It backs tests and
// servers run without a state directory.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	// entries holds each material's history oldest first.
	entries map[string]material.Modifications
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]material.Modifications)}
}

func (s *MemoryStore) LatestModification(_ context.Context, m material.Material) (material.Modification, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[m.Fingerprint()]
	if len(entries) == 0 {
		return material.Modification{}, false, nil
	}
	return entries[len(entries)-1].Clone(), true, nil
}

func (s *MemoryStore) ModificationsSince(_ context.Context, m material.Material, revision string) (material.Modifications, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[m.Fingerprint()]
	if len(entries) == 0 {
		return nil, nil
	}
	for index := len(entries) - 1; index >= 0; index-- {
		if entries[index].Revision == revision {
			return reversed(entries[index+1:]).Clone(), nil
		}
	}
	return material.Modifications{entries[len(entries)-1].Clone()}, nil
}

func (s *MemoryStore) FindModification(_ context.Context, m material.Material, revision string) (material.Modification, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, modification := range s.entries[m.Fingerprint()] {
		if modification.Revision == revision {
			return modification.Clone(), true, nil
		}
	}
	return material.Modification{}, false, nil
}

func (s *MemoryStore) Recent(_ context.Context, m material.Material, limit int) (material.Modifications, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[m.Fingerprint()]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return reversed(entries).Clone(), nil
}

func (s *MemoryStore) Record(_ context.Context, m material.Material, mods material.Modifications) (material.Modifications, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := m.Fingerprint()
	existing := s.entries[fingerprint]
	known := make(map[string]bool, len(existing))
	for _, modification := range existing {
		known[modification.Revision] = true
	}

	fresh := newRecords(mods, func(revision string) bool { return known[revision] })
	for index := range fresh {
		s.nextID++
		fresh[index].ID = s.nextID
	}
	s.entries[fingerprint] = append(existing, fresh...)
	return reversed(fresh).Clone(), nil
}

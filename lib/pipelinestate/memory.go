// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestate

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
)

type storedCause struct {
	cause   *buildcause.BuildCause
	version int64
}

// MemoryStore keeps pipeline state in memory.
type MemoryStore struct {
	mu        sync.Mutex
	causes    map[string]storedCause
	instances map[string][]Instance
	built     map[string]map[string]int64
	pauses    map[string]Pause
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		causes:    make(map[string]storedCause),
		instances: make(map[string][]Instance),
		built:     make(map[string]map[string]int64),
		pauses:    make(map[string]Pause),
	}
}

func (s *MemoryStore) LastCause(_ context.Context, pipeline string) (*buildcause.BuildCause, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.causes[pipeline]
	if !ok {
		return nil, 0, nil
	}
	return stored.cause.Clone(), stored.version, nil
}

func (s *MemoryStore) ReplaceCause(_ context.Context, pipeline string, expected int64, cause *buildcause.BuildCause) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.causes[pipeline].version
	if current != expected {
		return 0, fmt.Errorf("%w: pipeline %s at version %d, expected %d", ErrVersionConflict, pipeline, current, expected)
	}
	s.causes[pipeline] = storedCause{cause: cause.Clone(), version: current + 1}
	return current + 1, nil
}

func (s *MemoryStore) CreateInstance(_ context.Context, request InstanceRequest) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.instances[request.Pipeline]
	counter := int64(len(existing)) + 1
	instance := Instance{
		ID:        request.ID,
		Pipeline:  request.Pipeline,
		Counter:   counter,
		Cause:     request.Cause.Clone(),
		CreatedAt: request.CreatedAt,
	}
	if request.Label != nil {
		instance.Label = request.Label(counter)
	}
	s.instances[request.Pipeline] = append(existing, instance)

	built := s.built[request.Pipeline]
	if built == nil {
		built = make(map[string]int64)
		s.built[request.Pipeline] = built
	}
	for fingerprint, id := range builtIDs(request.Cause) {
		built[fingerprint] = max(built[fingerprint], id)
	}
	return cloneInstance(instance), nil
}

func (s *MemoryStore) LatestInstance(_ context.Context, pipeline string) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instances := s.instances[pipeline]
	if len(instances) == 0 {
		return Instance{}, fmt.Errorf("%w: no instances of %s", ErrNotFound, pipeline)
	}
	return cloneInstance(instances[len(instances)-1]), nil
}

func (s *MemoryStore) Instances(_ context.Context, pipeline string, limit int) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instances := s.instances[pipeline]
	var result []Instance
	for index := len(instances) - 1; index >= 0; index-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, cloneInstance(instances[index]))
	}
	return result, nil
}

func (s *MemoryStore) BuiltModificationIDs(_ context.Context, pipeline string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.built[pipeline]), nil
}

func (s *MemoryStore) Pause(_ context.Context, pause Pause) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses[pause.Pipeline] = pause
	return nil
}

func (s *MemoryStore) Unpause(_ context.Context, pipeline string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.pauses[pipeline]
	delete(s.pauses, pipeline)
	return existed, nil
}

func (s *MemoryStore) PauseState(_ context.Context, pipeline string) (Pause, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pause, ok := s.pauses[pipeline]
	if !ok {
		return Pause{}, fmt.Errorf("%w: %s is not paused", ErrNotFound, pipeline)
	}
	return pause, nil
}

func (s *MemoryStore) Pauses(_ context.Context) ([]Pause, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pauses := slices.Collect(maps.Values(s.pauses))
	slices.SortFunc(pauses, func(a, b Pause) int { return strings.Compare(a.Pipeline, b.Pipeline) })
	return pauses, nil
}

func cloneInstance(instance Instance) Instance {
	instance.Cause = instance.Cause.Clone()
	return instance
}

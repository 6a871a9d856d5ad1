// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/clock"
)

// ErrAlreadyQueued is returned by Enqueue when the pipeline already has
// a pending cause.
var ErrAlreadyQueued = errors.New("schedule: pipeline already has a queued build cause")

// Entry is a queued cause.
type Entry struct {
	Pipeline   string                 `json:"pipeline" cbor:"pipeline"`
	Cause      *buildcause.BuildCause `json:"cause" cbor:"cause"`
	EnqueuedAt time.Time              `json:"enqueued_at" cbor:"enqueued_at"`

	// Taken is set once a consumer received the entry with Next. The
	// entry stays listed until Remove.
	Taken bool `json:"taken" cbor:"taken"`
}

// Queue holds at most one pending cause per pipeline, in arrival
// order.
type Queue struct {
	clock clock.Clock

	mu      sync.Mutex
	entries []*Entry
	// ready has capacity 1 and receives a value whenever an entry is
	// added.
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue(clk clock.Clock) *Queue {
	return &Queue{clock: clk, ready: make(chan struct{}, 1)}
}

// Enqueue adds a deep copy of cause for pipeline.
func (q *Queue) Enqueue(pipeline string, cause *buildcause.BuildCause) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(pipeline) >= 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, pipeline)
	}
	q.entries = append(q.entries, &Entry{
		Pipeline:   pipeline,
		Cause:      cause.Clone(),
		EnqueuedAt: q.clock.Now(),
	})
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Next returns the oldest entry not yet taken, marking it taken. It
// blocks until one exists or ctx is done.
func (q *Queue) Next(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		for _, entry := range q.entries {
			if !entry.Taken {
				entry.Taken = true
				taken := *entry
				taken.Cause = entry.Cause.Clone()
				q.mu.Unlock()
				return taken, nil
			}
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Remove drops pipeline's entry. It reports whether one existed.
func (q *Queue) Remove(pipeline string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	index := q.indexLocked(pipeline)
	if index < 0 {
		return false
	}
	q.entries = slices.Delete(q.entries, index, index+1)
	return true
}

// Contains reports whether pipeline has an entry.
func (q *Queue) Contains(pipeline string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(pipeline) >= 0
}

// Pending returns copies of every entry in arrival order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := make([]Entry, len(q.entries))
	for index, entry := range q.entries {
		pending[index] = *entry
		pending[index].Cause = entry.Cause.Clone()
	}
	return pending
}

func (q *Queue) indexLocked(pipeline string) int {
	return slices.IndexFunc(q.entries, func(entry *Entry) bool { return entry.Pipeline == pipeline })
}

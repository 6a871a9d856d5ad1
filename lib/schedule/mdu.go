// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
)

// MDUWaiter waits for one pipeline's materials to finish updating. It
// is fed by an Updater subscription and fires once every awaited
// material has reported, or as soon as one fails.
type MDUWaiter struct {
	pipeline string

	mu      sync.Mutex
	pending map[string]material.Material
	err     error
	done    chan struct{}
	fired   bool
}

// NewMDUWaiter awaits materials on behalf of pipeline.
func NewMDUWaiter(pipeline string, materials []material.Material) *MDUWaiter {
	waiter := &MDUWaiter{
		pipeline: pipeline,
		pending:  make(map[string]material.Material, len(materials)),
		done:     make(chan struct{}),
	}
	for _, m := range materials {
		waiter.pending[m.Fingerprint()] = m
	}
	if len(waiter.pending) == 0 {
		waiter.fire(nil)
	}
	return waiter
}

// Observe consumes an update event. Events for other materials are
// ignored.
func (w *MDUWaiter) Observe(event history.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired {
		return
	}
	if _, awaited := w.pending[event.Fingerprint]; !awaited {
		return
	}
	if event.Err != nil {
		w.fireLocked(fmt.Errorf("material update for pipeline %s failed: %w", w.pipeline, event.Err))
		return
	}
	delete(w.pending, event.Fingerprint)
	if len(w.pending) == 0 {
		w.fireLocked(nil)
	}
}

// Done is closed when the waiter fires.
func (w *MDUWaiter) Done() <-chan struct{} {
	return w.done
}

// Err is the failure that fired the waiter, if any.
func (w *MDUWaiter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the waiter fires, timeout passes on clk, or ctx is
// done. A zero timeout waits indefinitely.
func (w *MDUWaiter) Wait(ctx context.Context, clk clock.Clock, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = clk.After(timeout)
	}
	select {
	case <-w.done:
		return w.Err()
	case <-expired:
		return fmt.Errorf("timed out after %s waiting for material update of pipeline %s (%d materials pending)",
			timeout, w.pipeline, w.pendingCount())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *MDUWaiter) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *MDUWaiter) fire(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fireLocked(err)
}

func (w *MDUWaiter) fireLocked(err error) {
	if w.fired {
		return
	}
	w.fired = true
	w.err = err
	close(w.done)
}

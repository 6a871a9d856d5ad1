// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/health"
	"github.com/bureau-foundation/conveyor/lib/material"
)

// Event reports a finished material update.
type Event struct {
	Material    material.Material
	Fingerprint string

	// New holds the modifications this update recorded, newest first.
	New material.Modifications

	// Err is non-nil when the update failed.
	Err error

	FinishedAt time.Time
}

// UpdaterConfig configures an Updater. Store, Pollers, and Clock are
// required.
type UpdaterConfig struct {
	Store   Store
	Pollers *Registry
	Health  *health.Registry
	Clock   clock.Clock
	Logger  *slog.Logger

	// Workers bounds how many materials UpdateAll refreshes at once.
	// Defaults to 4.
	Workers int

	// Timeout bounds a single poll. Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration
}

// Updater refreshes material histories.
type Updater struct {
	store   Store
	pollers *Registry
	health  *health.Registry
	clock   clock.Clock
	logger  *slog.Logger
	workers int
	timeout time.Duration

	flight singleflight.Group

	mu             sync.Mutex
	subscribers    map[uint64]func(Event)
	nextSubscriber uint64
}

// NewUpdater returns an Updater.
func NewUpdater(cfg UpdaterConfig) *Updater {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Updater{
		store:       cfg.Store,
		pollers:     cfg.Pollers,
		health:      cfg.Health,
		clock:       cfg.Clock,
		logger:      logger,
		workers:     workers,
		timeout:     cfg.Timeout,
		subscribers: make(map[uint64]func(Event)),
	}
}

// Subscribe registers fn to receive an Event after every update,
// including updates that failed. fn runs on the updating goroutine and
// must not block. The returned function removes the subscription.
func (u *Updater) Subscribe(fn func(Event)) (unsubscribe func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextSubscriber
	u.nextSubscriber++
	u.subscribers[id] = fn
	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		delete(u.subscribers, id)
	}
}

func (u *Updater) publish(event Event) {
	u.mu.Lock()
	subscribers := make([]func(Event), 0, len(u.subscribers))
	for _, fn := range u.subscribers {
		subscribers = append(subscribers, fn)
	}
	u.mu.Unlock()

	for _, fn := range subscribers {
		fn(event)
	}
}

// Update polls m and records what it finds, returning the new
// modifications. A call that arrives while m is already being updated
// waits for that update and shares its result. The poll itself is not
// cancelled when a waiting caller's ctx ends.
func (u *Updater) Update(ctx context.Context, m material.Material) (material.Modifications, error) {
	fingerprint := m.Fingerprint()
	results := u.flight.DoChan(fingerprint, func() (any, error) {
		mods, err := u.update(context.WithoutCancel(ctx), m)
		return mods, err
	})
	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(material.Modifications).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (u *Updater) update(ctx context.Context, m material.Material) (mods material.Modifications, err error) {
	fingerprint := m.Fingerprint()
	defer func() {
		u.report(m, err)
		u.publish(Event{
			Material:    m,
			Fingerprint: fingerprint,
			New:         mods.Clone(),
			Err:         err,
			FinishedAt:  u.clock.Now(),
		})
	}()

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	poller, err := u.pollers.Lookup(m.Kind)
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", m.DisplayName(), err)
	}

	latest, known, err := u.store.LatestModification(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", m.DisplayName(), err)
	}

	var found material.Modifications
	if known {
		found, err = poller.Since(ctx, m, latest.Revision)
	} else {
		found, err = poller.Latest(ctx, m)
	}
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", m.DisplayName(), err)
	}

	mods, err = u.store.Record(ctx, m, found)
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", m.DisplayName(), err)
	}
	if len(mods) > 0 {
		u.logger.Info("material updated",
			"material", m.DisplayName(),
			"fingerprint", fingerprint,
			"new_modifications", len(mods),
			"revision", mods[0].Revision,
		)
	}
	return mods, nil
}

func (u *Updater) report(m material.Material, err error) {
	if u.health == nil {
		return
	}
	key := health.MaterialUpdateKey(m.Fingerprint())
	if err == nil {
		u.health.Clear(key)
		return
	}
	u.logger.Warn("material update failed",
		"material", m.DisplayName(),
		"fingerprint", m.Fingerprint(),
		"error", err,
	)
	u.health.ReportWarning(key, "Modification check failed for material: "+m.DisplayName(), err.Error())
}

// UpdateAll updates every material with at most Workers polls in
// flight. All materials are attempted; the failures are joined.
func (u *Updater) UpdateAll(ctx context.Context, materials []material.Material) error {
	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	group.SetLimit(u.workers)
	for _, m := range materials {
		group.Go(func() error {
			if _, err := u.Update(ctx, m); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	group.Wait()
	return errors.Join(errs...)
}

// Run polls the auto-updating materials returned by materials every
// interval until ctx is done, starting immediately.
func (u *Updater) Run(ctx context.Context, interval time.Duration, materials func() []material.Material) {
	ticker := u.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		var polled []material.Material
		for _, m := range materials() {
			if m.IsAutoUpdate() {
				polled = append(polled, m)
			}
		}
		if err := u.UpdateAll(ctx, polled); err != nil && ctx.Err() == nil {
			u.logger.Debug("poll round finished with failures", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

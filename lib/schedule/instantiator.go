// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bureau-foundation/conveyor/lib/checker"
	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
)

// Instantiator turns queued causes into pipeline instances.
type Instantiator struct {
	queue   *Queue
	monitor *TriggerMonitor
	state   pipelinestate.Store
	configs checker.ConfigSource
	clock   clock.Clock
	logger  *slog.Logger

	// created, when set, receives every created instance.
	created func(pipelinestate.Instance)
}

// NewInstantiator returns an Instantiator draining queue.
func NewInstantiator(queue *Queue, monitor *TriggerMonitor, state pipelinestate.Store, configs checker.ConfigSource, clk clock.Clock, logger *slog.Logger) *Instantiator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Instantiator{queue: queue, monitor: monitor, state: state, configs: configs, clock: clk, logger: logger}
}

// OnCreated registers fn to observe created instances. Call before Run.
func (i *Instantiator) OnCreated(fn func(pipelinestate.Instance)) {
	i.created = fn
}

// Run drains the queue until ctx is done.
func (i *Instantiator) Run(ctx context.Context) error {
	for {
		entry, err := i.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		i.Instantiate(ctx, entry)
	}
}

// Instantiate creates the instance for entry. Whatever the outcome, the
// entry leaves the queue and the pipeline's claim is released.
func (i *Instantiator) Instantiate(ctx context.Context, entry Entry) (pipelinestate.Instance, error) {
	defer func() {
		i.queue.Remove(entry.Pipeline)
		i.monitor.Clear(entry.Pipeline)
	}()

	instance, err := i.create(ctx, entry)
	if err != nil {
		i.logger.Error("creating pipeline instance failed, dropping build cause",
			"pipeline", entry.Pipeline,
			"cause", entry.Cause.ID,
			"error", err,
		)
		return pipelinestate.Instance{}, err
	}

	i.logger.Info("pipeline instance created",
		"pipeline", instance.Pipeline,
		"counter", instance.Counter,
		"label", instance.Label,
		"cause", entry.Cause.ID,
	)
	if i.created != nil {
		i.created(instance)
	}
	return instance, nil
}

func (i *Instantiator) create(ctx context.Context, entry Entry) (pipelinestate.Instance, error) {
	pipeline, err := i.configs.Current().Pipeline(entry.Pipeline)
	if err != nil {
		return pipelinestate.Instance{}, err
	}
	if err := entry.Cause.Validate(); err != nil {
		return pipelinestate.Instance{}, fmt.Errorf("queued cause for %s: %w", entry.Pipeline, err)
	}
	return i.state.CreateInstance(ctx, pipelinestate.InstanceRequest{
		ID:       uuid.NewString(),
		Pipeline: pipeline.Name,
		Cause:    entry.Cause,
		Label: func(counter int64) string {
			return pipeline.Label(counter, entry.Cause.Revisions)
		},
		CreatedAt: i.clock.Now(),
	})
}

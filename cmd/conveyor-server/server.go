// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/conveyor/lib/checker"
	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/health"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/schedule"
	"github.com/bureau-foundation/conveyor/lib/service"
)

// serverOptions are the collaborators a Server is assembled from.
type serverOptions struct {
	Configs *pipelineconfig.Store
	History history.Store
	State   pipelinestate.Store
	Pollers *history.Registry

	// Disk gates scheduling on artifacts free space. Nil disables the
	// gate.
	Disk schedule.DiskChecker

	Clock  clock.Clock
	Logger *slog.Logger

	MDUWorkers    int
	MDUTimeout    time.Duration
	TimerLocation *time.Location
}

// Server owns the scheduling components and serves the control socket.
type Server struct {
	configs      *pipelineconfig.Store
	history      history.Store
	state        pipelinestate.Store
	health       *health.Registry
	queue        *schedule.Queue
	monitor      *schedule.TriggerMonitor
	updater      *history.Updater
	producer     *schedule.Producer
	instantiator *schedule.Instantiator
	timers       *schedule.TimerScheduler
	clock        clock.Clock
	logger       *slog.Logger
	startedAt    time.Time
}

func newServer(options serverOptions) *Server {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	location := options.TimerLocation
	if location == nil {
		location = time.UTC
	}

	registry := health.NewRegistry(options.Clock, logger)
	queue := schedule.NewQueue(options.Clock)
	monitor := schedule.NewTriggerMonitor()
	updater := history.NewUpdater(history.UpdaterConfig{
		Store:   options.History,
		Pollers: options.Pollers,
		Health:  registry,
		Clock:   options.Clock,
		Logger:  logger,
		Workers: options.MDUWorkers,
	})
	producer := schedule.NewProducer(schedule.Config{
		Configs:    options.Configs,
		Checker:    checker.New(options.History, logger),
		State:      options.State,
		Queue:      queue,
		Monitor:    monitor,
		Health:     registry,
		Clock:      options.Clock,
		Logger:     logger,
		History:    options.History,
		Updater:    updater,
		Disk:       options.Disk,
		MDUTimeout: options.MDUTimeout,
	})
	updater.Subscribe(producer.HandleUpdate)

	return &Server{
		configs:      options.Configs,
		history:      options.History,
		state:        options.State,
		health:       registry,
		queue:        queue,
		monitor:      monitor,
		updater:      updater,
		producer:     producer,
		instantiator: schedule.NewInstantiator(queue, monitor, options.State, options.Configs, options.Clock, logger),
		timers:       schedule.NewTimerScheduler(producer, options.Clock, location, logger),
		clock:        options.Clock,
		logger:       logger,
		startedAt:    options.Clock.Now(),
	}
}

// Reload rereads the pipeline definitions and rearms the timers. An
// invalid directory keeps the previous pipelines; the issues are
// logged by the store and block scheduling until fixed.
func (s *Server) Reload() *pipelineconfig.Snapshot {
	snapshot, err := s.configs.Reload()
	if err != nil {
		s.logger.Warn("pipeline reload reported issues", "error", err)
	}
	s.timers.Sync(snapshot)
	return snapshot
}

// materials lists every configured material of the current snapshot.
func (s *Server) materials() []material.Material {
	return s.configs.Current().Materials()
}

// Run serves socket, drains the queue, polls materials, and sweeps the
// pipelines until ctx is done, then waits for background evaluations.
func (s *Server) Run(ctx context.Context, socket *service.SocketServer, pollInterval, sweepInterval time.Duration) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return socket.Serve(ctx) })
	group.Go(func() error { return s.instantiator.Run(ctx) })
	group.Go(func() error {
		s.updater.Run(ctx, pollInterval, s.materials)
		return nil
	})
	group.Go(func() error {
		s.sweep(ctx, sweepInterval)
		return nil
	})

	err := group.Wait()
	s.timers.Stop()
	s.producer.Wait()
	return err
}

// sweep re-evaluates every pipeline each interval.
func (s *Server) sweep(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		failed := 0
		results := s.producer.Sweep(ctx)
		for _, result := range results {
			if !result.Success {
				failed++
			}
		}
		s.logger.Debug("sweep finished", "pipelines", len(results), "failed", failed)
	}
}

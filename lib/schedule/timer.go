// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/cron"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
)

// TimerScheduler fires TimerSchedule for every pipeline with a timer.
type TimerScheduler struct {
	producer *Producer
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	stopped bool
	timers  map[string]*pipelineTimer
}

type pipelineTimer struct {
	spec     string
	schedule cron.Schedule
	pending  *clock.Timer
}

// NewTimerScheduler returns a scheduler evaluating timer specs in
// location (UTC when nil).
func NewTimerScheduler(producer *Producer, clk clock.Clock, location *time.Location, logger *slog.Logger) *TimerScheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TimerScheduler{
		producer: producer,
		clock:    clk,
		location: location,
		logger:   logger,
		timers:   make(map[string]*pipelineTimer),
	}
}

// Sync aligns the armed timers with snapshot: new timers are armed,
// removed ones stopped, and changed specs re-armed.
func (s *TimerScheduler) Sync(snapshot *pipelineconfig.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	wanted := make(map[string]string)
	for _, pipeline := range snapshot.Pipelines() {
		if pipeline.Timer != nil {
			wanted[pipeline.Name] = pipeline.Timer.Spec
		}
	}

	for name, timer := range s.timers {
		if spec, ok := wanted[name]; !ok || spec != timer.spec {
			if timer.pending != nil {
				timer.pending.Stop()
			}
			delete(s.timers, name)
		}
	}
	for name, spec := range wanted {
		if _, armed := s.timers[name]; armed {
			continue
		}
		schedule, err := cron.ParseIn(spec, s.location)
		if err != nil {
			s.logger.Warn("ignoring invalid timer", "pipeline", name, "spec", spec, "error", err)
			continue
		}
		timer := &pipelineTimer{spec: spec, schedule: schedule}
		s.timers[name] = timer
		s.armLocked(name, timer)
	}
}

// Armed returns the pipelines with an armed timer and when each fires
// next.
func (s *TimerScheduler) Armed() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	armed := make(map[string]time.Time, len(s.timers))
	for name, timer := range s.timers {
		if next, err := timer.schedule.Next(now); err == nil {
			armed[name] = next
		}
	}
	return armed
}

// Stop disarms every timer.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, timer := range s.timers {
		if timer.pending != nil {
			timer.pending.Stop()
		}
		delete(s.timers, name)
	}
}

func (s *TimerScheduler) armLocked(name string, timer *pipelineTimer) {
	now := s.clock.Now()
	next, err := timer.schedule.Next(now)
	if err != nil {
		s.logger.Warn("timer never fires again", "pipeline", name, "spec", timer.spec, "error", err)
		return
	}
	timer.pending = s.clock.AfterFunc(next.Sub(now), func() { s.fire(name, timer) })
}

func (s *TimerScheduler) fire(name string, timer *pipelineTimer) {
	result := s.producer.TimerSchedule(context.Background(), name)
	s.logger.Info("timer fired", "pipeline", name, "result", result.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timers[name] != timer {
		return
	}
	s.armLocked(name, timer)
}

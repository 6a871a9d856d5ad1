// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/checker"
	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/diskspace"
	"github.com/bureau-foundation/conveyor/lib/health"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/schedule"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// harness wires a Producer over in-memory stores.
type harness struct {
	clock    *clock.FakeClock
	history  *history.MemoryStore
	configs  *pipelineconfig.Store
	state    *pipelinestate.MemoryStore
	queue    *schedule.Queue
	monitor  *schedule.TriggerMonitor
	health   *health.Registry
	producer *schedule.Producer
}

type harnessOption func(*schedule.Config)

func withDisk(disk schedule.DiskChecker) harnessOption {
	return func(cfg *schedule.Config) { cfg.Disk = disk }
}

func withUpdater(updater schedule.Updater) harnessOption {
	return func(cfg *schedule.Config) { cfg.Updater = updater }
}

func newHarness(t *testing.T, pipelines []*pipelineconfig.Pipeline, options ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.Fake(epoch),
		history: history.NewMemoryStore(),
		state:   pipelinestate.NewMemoryStore(),
		monitor: schedule.NewTriggerMonitor(),
	}
	h.configs = pipelineconfig.NewStore(t.TempDir(), h.clock, nil)
	h.configs.Replace(pipelines)
	h.queue = schedule.NewQueue(h.clock)
	h.health = health.NewRegistry(h.clock, nil)

	cfg := schedule.Config{
		Configs: h.configs,
		Checker: checker.New(h.history, nil),
		State:   h.state,
		Queue:   h.queue,
		Monitor: h.monitor,
		Health:  h.health,
		Clock:   h.clock,
		History: h.history,
	}
	for _, option := range options {
		option(&cfg)
	}
	h.producer = schedule.NewProducer(cfg)
	t.Cleanup(h.producer.Wait)
	return h
}

func (h *harness) record(t *testing.T, m material.Material, revisions ...string) {
	t.Helper()
	mods := make(material.Modifications, len(revisions))
	for index, revision := range revisions {
		mods[index] = material.Modification{
			Revision:     revision,
			Username:     "alice",
			Comment:      "change " + revision,
			ModifiedTime: epoch.Add(time.Duration(index) * time.Minute),
		}
	}
	if _, err := h.history.Record(context.Background(), m, mods); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

// instantiate drains the queued cause for pipeline into an instance.
func (h *harness) instantiate(t *testing.T) pipelinestate.Instance {
	t.Helper()
	instantiator := schedule.NewInstantiator(h.queue, h.monitor, h.state, h.configs, h.clock, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry, err := h.queue.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	instance, err := instantiator.Instantiate(ctx, entry)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return instance
}

func gitRepo(name string) material.Material {
	return material.Material{Kind: material.Git, Name: name, URL: "https://example.com/" + name + ".git"}
}

func newPipeline(name string, materials ...material.Material) *pipelineconfig.Pipeline {
	return &pipelineconfig.Pipeline{
		Name:      name,
		Materials: materials,
		Stages: []pipelineconfig.Stage{{
			Name: "build",
			Jobs: []pipelineconfig.Job{{Name: "compile", Commands: []string{"make"}}},
		}},
	}
}

type fixedDisk struct {
	status diskspace.Status
	err    error
}

func (d fixedDisk) Check() (diskspace.Status, error) { return d.status, d.err }

func assertResult(t *testing.T, result schedule.Result, status int, success bool) {
	t.Helper()
	if result.Status != status || result.Success != success {
		t.Fatalf("result = %+v, want status %d success %v", result, status, success)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/control"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/service"
	"github.com/bureau-foundation/conveyor/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const appURL = "https://git.example.com/app.git"

const buildDefinition = `{
	"materials": [{"type": "git", "name": "app", "url": "` + appURL + `"}],
	"stages": [{"name": "build", "jobs": [{"name": "compile", "commands": ["make"]}]}],
}`

const deployDefinition = `{
	"materials": [{"type": "dependency", "pipeline": "build", "stage": "build"}],
	"stages": [{"name": "ship", "jobs": [{"name": "release"}]}],
}`

var appMaterial = material.Material{Kind: material.Git, Name: "app", URL: appURL}

// gitPoller answers polls from a scripted newest-first history.
type gitPoller struct {
	mu      sync.Mutex
	history map[string]material.Modifications
}

func (p *gitPoller) push(m material.Material, revisions ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.history == nil {
		p.history = make(map[string]material.Modifications)
	}
	for _, revision := range revisions {
		p.history[m.Fingerprint()] = append(material.Modifications{commit(revision)}, p.history[m.Fingerprint()]...)
	}
}

func (p *gitPoller) all(m material.Material) material.Modifications {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history[m.Fingerprint()].Clone()
}

func (p *gitPoller) Latest(_ context.Context, m material.Material) (material.Modifications, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mods := p.history[m.Fingerprint()]
	if len(mods) == 0 {
		return nil, nil
	}
	return mods[:1].Clone(), nil
}

func (p *gitPoller) Since(_ context.Context, m material.Material, revision string) (material.Modifications, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mods := p.history[m.Fingerprint()]
	for index, modification := range mods {
		if modification.Revision == revision {
			return mods[:index].Clone(), nil
		}
	}
	return mods[:1].Clone(), nil
}

func commit(revision string) material.Modification {
	return material.Modification{
		Revision:     revision,
		Username:     "alice",
		Comment:      "change " + revision,
		ModifiedTime: epoch,
		Files:        []material.ModifiedFile{{Path: "main.go", Action: material.FileModified}},
	}
}

type testServer struct {
	server      *Server
	clock       *clock.FakeClock
	history     *history.MemoryStore
	state       *pipelinestate.MemoryStore
	poller      *gitPoller
	client      *service.Client
	definitions string
}

type serverSetup struct {
	definitions map[string]string
	// recorded revisions of appMaterial, oldest first, known to both
	// the history and the poller before the server starts.
	recorded []string
	// polled revisions the first poll discovers.
	polled []string
}

// startServer writes the definitions, assembles a Server over memory
// stores, and runs it until the test ends.
func startServer(t *testing.T, setup serverSetup) *testServer {
	t.Helper()
	ts := &testServer{
		clock:       clock.Fake(epoch),
		history:     history.NewMemoryStore(),
		state:       pipelinestate.NewMemoryStore(),
		poller:      &gitPoller{},
		definitions: t.TempDir(),
	}
	for name, content := range setup.definitions {
		writeDefinition(t, ts.definitions, name, content)
	}
	if len(setup.recorded) > 0 {
		ts.poller.push(appMaterial, setup.recorded...)
		if _, err := ts.history.Record(context.Background(), appMaterial, ts.poller.all(appMaterial)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	ts.poller.push(appMaterial, setup.polled...)

	pollers := history.NewRegistry()
	pollers.Register(material.Git, ts.poller)
	pollers.Register(material.Dependency, history.NewDependencyPoller(ts.history))

	ts.server = newServer(serverOptions{
		Configs: pipelineconfig.NewStore(ts.definitions, ts.clock, nil),
		History: ts.history,
		State:   ts.state,
		Pollers: pollers,
		Clock:   ts.clock,
	})
	ts.server.Reload()

	socketPath := filepath.Join(testutil.SocketDir(t), "conveyor.sock")
	socket := service.NewSocketServer(socketPath, nil)
	ts.server.registerActions(socket)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.server.Run(ctx, socket, time.Minute, 10*time.Minute) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 10*time.Second, "Run did not return"); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	testutil.RequireClosed(t, socket.Ready(), 5*time.Second, "control socket never became ready")

	ts.client = service.NewClient(socketPath)
	return ts
}

func writeDefinition(t *testing.T, directory, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(directory, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func (ts *testServer) call(t *testing.T, action string, request, result any) {
	t.Helper()
	if err := ts.client.Call(context.Background(), action, request, result); err != nil {
		t.Fatalf("%s: %v", action, err)
	}
}

// waitForCounter waits until pipeline has an instance with counter.
func (ts *testServer) waitForCounter(t *testing.T, pipeline string, counter int64) pipelinestate.Instance {
	t.Helper()
	var instance pipelinestate.Instance
	testutil.Eventually(t, 5*time.Second, func() bool {
		latest, err := ts.state.LatestInstance(context.Background(), pipeline)
		if err != nil {
			return false
		}
		instance = latest
		return latest.Counter >= counter
	}, "instance %d of %s", counter, pipeline)
	return instance
}

func TestPolledChangesBecomeInstances(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		polled:      []string{"0123456789abcdef"},
	})

	instance := ts.waitForCounter(t, "build", 1)
	if instance.Label != "1" {
		t.Errorf("Label = %q, want %q", instance.Label, "1")
	}
	revision, ok := instance.Cause.Revisions.Find(appMaterial.Fingerprint())
	if !ok {
		t.Fatal("instance cause has no revision for app")
	}
	if got := revision.Revision(); got != "0123456789abcdef" {
		t.Errorf("built revision = %q, want %q", got, "0123456789abcdef")
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		var status control.StatusResponse
		ts.call(t, control.ActionStatus, nil, &status)
		return len(status.Triggered) == 0 && len(status.Pipelines) == 1 && status.Pipelines[0].LastCounter == 1
	}, "status reports the instance with the claim released")

	var recent control.HistoryResponse
	ts.call(t, control.ActionHistory, control.HistoryRequest{Pipeline: "build", Material: "app"}, &recent)
	if len(recent.Materials) != 1 {
		t.Fatalf("history materials = %d, want 1", len(recent.Materials))
	}
	if got := recent.Materials[0].Modifications; len(got) != 1 || got[0].Revision != "0123456789abcdef" {
		t.Errorf("history modifications = %+v, want one 0123456789abcdef", got)
	}
}

func TestTriggerAction(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		recorded:    []string{"c1"},
	})

	var response control.TriggerResponse
	ts.call(t, control.ActionTrigger, control.TriggerRequest{Pipeline: "build", Approver: "alice", Wait: true}, &response)
	if !response.Result.Success || response.Result.Status != http.StatusOK {
		t.Fatalf("trigger result = %+v, want success 200", response.Result)
	}
	instance := ts.waitForCounter(t, "build", 1)
	if instance.Cause.Approver != "alice" {
		t.Errorf("Approver = %q, want alice", instance.Cause.Approver)
	}

	var instances control.InstancesResponse
	ts.call(t, control.ActionInstances, control.InstancesRequest{Pipeline: "build"}, &instances)
	if len(instances.Instances) != 1 || instances.Instances[0].Counter != 1 {
		t.Errorf("instances = %+v, want counter 1", instances.Instances)
	}

	ts.call(t, control.ActionTrigger, control.TriggerRequest{Pipeline: "missing"}, &response)
	if response.Result.Success || response.Result.Status != http.StatusNotFound {
		t.Errorf("trigger of unknown pipeline = %+v, want 404", response.Result)
	}
	if want := "Pipeline 'missing' not found"; response.Result.Message != want {
		t.Errorf("Message = %q, want %q", response.Result.Message, want)
	}

	err := ts.client.Call(context.Background(), control.ActionTrigger, control.TriggerRequest{}, nil)
	var serviceError *service.Error
	if !errors.As(err, &serviceError) || !strings.Contains(serviceError.Message, "pipeline") {
		t.Errorf("trigger without pipeline = %v, want a service error naming the field", err)
	}
}

func TestTriggerActionPinsRevisionByMaterialName(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		recorded:    []string{"c1", "c2"},
	})

	var response control.TriggerResponse
	ts.call(t, control.ActionTrigger, control.TriggerRequest{
		Pipeline:  "build",
		Revisions: map[string]string{"APP": "c1"},
		Wait:      true,
	}, &response)
	if !response.Result.Success {
		t.Fatalf("trigger result = %+v, want success", response.Result)
	}
	instance := ts.waitForCounter(t, "build", 1)
	revision, ok := instance.Cause.Revisions.Find(appMaterial.Fingerprint())
	if !ok {
		t.Fatal("instance cause has no revision for app")
	}
	if got := revision.Revision(); got != "c1" {
		t.Errorf("built revision = %q, want pinned c1", got)
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		var status control.StatusResponse
		ts.call(t, control.ActionStatus, nil, &status)
		return len(status.Triggered) == 0 && len(status.Queued) == 0
	}, "claim released after the instance")

	ts.call(t, control.ActionTrigger, control.TriggerRequest{
		Pipeline:  "build",
		Revisions: map[string]string{"app": "nonexistent"},
	}, &response)
	if response.Result.Status != http.StatusUnprocessableEntity {
		t.Errorf("trigger with an unknown revision = %+v, want 422", response.Result)
	}
	if want := "Unable to find revision [nonexistent]"; !strings.Contains(response.Result.Message, want) {
		t.Errorf("Message = %q, want it to contain %q", response.Result.Message, want)
	}
}

func TestTriggerActionRejectsConflictingSelectors(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		recorded:    []string{"c1", "c2"},
	})

	prefix := appMaterial.Fingerprint()[:8]
	var response control.TriggerResponse
	ts.call(t, control.ActionTrigger, control.TriggerRequest{
		Pipeline:  "build",
		Revisions: map[string]string{"app": "c1", prefix: "c2"},
	}, &response)
	if response.Result.Status != http.StatusUnprocessableEntity {
		t.Fatalf("trigger = %+v, want 422", response.Result)
	}
	if !strings.Contains(response.Result.Message, "select the same material") {
		t.Errorf("Message = %q, want the conflicting selectors named", response.Result.Message)
	}

	var status control.StatusResponse
	ts.call(t, control.ActionStatus, nil, &status)
	if len(status.Triggered) != 0 || len(status.Queued) != 0 {
		t.Errorf("triggered = %v, queued = %v, want nothing claimed", status.Triggered, status.Queued)
	}
}

func TestPauseAndUnpause(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		recorded:    []string{"c1"},
	})

	var paused control.PauseResponse
	ts.call(t, control.ActionPause, control.PauseRequest{Pipeline: "BUILD", By: "alice", Reason: "flaky tests"}, &paused)
	if paused.Pause.Pipeline != "build" || paused.Pause.By != "alice" || !paused.Pause.At.Equal(epoch) {
		t.Errorf("pause = %+v, want build paused by alice at epoch", paused.Pause)
	}

	var triggered control.TriggerResponse
	ts.call(t, control.ActionTrigger, control.TriggerRequest{Pipeline: "build", Wait: true}, &triggered)
	if triggered.Result.Status != http.StatusConflict {
		t.Fatalf("trigger while paused = %+v, want 409", triggered.Result)
	}
	if want := "Pipeline build is paused: flaky tests"; triggered.Result.Message != want {
		t.Errorf("Message = %q, want %q", triggered.Result.Message, want)
	}

	var status control.StatusResponse
	ts.call(t, control.ActionStatus, nil, &status)
	if len(status.Pipelines) != 1 || status.Pipelines[0].Pause == nil || status.Pipelines[0].Pause.Reason != "flaky tests" {
		t.Errorf("status pipelines = %+v, want build paused", status.Pipelines)
	}

	var unpaused control.UnpauseResponse
	ts.call(t, control.ActionUnpause, control.UnpauseRequest{Pipeline: "build"}, &unpaused)
	if !unpaused.WasPaused {
		t.Error("first unpause: WasPaused = false, want true")
	}
	ts.call(t, control.ActionUnpause, control.UnpauseRequest{Pipeline: "build"}, &unpaused)
	if unpaused.WasPaused {
		t.Error("second unpause: WasPaused = true, want false")
	}

	ts.call(t, control.ActionTrigger, control.TriggerRequest{Pipeline: "build", Wait: true}, &triggered)
	if !triggered.Result.Success {
		t.Errorf("trigger after unpause = %+v, want success", triggered.Result)
	}

	err := ts.client.Call(context.Background(), control.ActionPause, control.PauseRequest{Pipeline: "missing"}, nil)
	if err == nil || !strings.Contains(err.Error(), "Pipeline 'missing' not found") {
		t.Errorf("pause of unknown pipeline = %v, want not found", err)
	}
}

func TestStagePassedSchedulesDownstream(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{
			"build.jsonc":  buildDefinition,
			"deploy.jsonc": deployDefinition,
		},
		recorded: []string{"c1"},
	})

	var response control.StagePassedResponse
	ts.call(t, control.ActionStagePassed, control.StagePassedRequest{
		Pipeline:     "build",
		Counter:      4,
		Label:        "4",
		Stage:        "build",
		StageCounter: 1,
	}, &response)
	if len(response.Results) != 1 || !response.Results[0].Success {
		t.Fatalf("results = %+v, want one successful result for deploy", response.Results)
	}

	instance := ts.waitForCounter(t, "deploy", 1)
	dependency := material.Material{Kind: material.Dependency, Pipeline: "build", Stage: "build"}
	revision, ok := instance.Cause.Revisions.Find(dependency.Fingerprint())
	if !ok {
		t.Fatal("deploy cause has no dependency revision")
	}
	if got := revision.Revision(); got != "build/4/build/1" {
		t.Errorf("dependency revision = %q, want build/4/build/1", got)
	}
	latest, _, err := ts.history.LatestModification(context.Background(), dependency)
	if err != nil {
		t.Fatalf("LatestModification: %v", err)
	}
	if !latest.ModifiedTime.Equal(epoch) {
		t.Errorf("completion time = %v, want the server clock %v", latest.ModifiedTime, epoch)
	}
}

func TestReloadAction(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		recorded:    []string{"c1"},
	})

	var first control.ReloadResponse
	writeDefinition(t, ts.definitions, "deploy.jsonc", deployDefinition)
	ts.call(t, control.ActionReload, nil, &first)
	if first.Pipelines != 2 || len(first.Issues) != 0 {
		t.Fatalf("reload = %+v, want 2 pipelines and no issues", first)
	}

	var second control.ReloadResponse
	writeDefinition(t, ts.definitions, "broken.jsonc", `{"materials": [`)
	ts.call(t, control.ActionReload, nil, &second)
	if second.Pipelines != 2 {
		t.Errorf("pipelines after a broken reload = %d, want the previous 2", second.Pipelines)
	}
	if len(second.Issues) == 0 {
		t.Error("broken reload reported no issues")
	}
	if second.Version <= first.Version {
		t.Errorf("version = %d, want above %d", second.Version, first.Version)
	}

	var triggered control.TriggerResponse
	ts.call(t, control.ActionTrigger, control.TriggerRequest{Pipeline: "build", Wait: true}, &triggered)
	if triggered.Result.Status != http.StatusServiceUnavailable {
		t.Errorf("trigger with invalid configuration = %+v, want 503", triggered.Result)
	}
}

func TestHistoryActionUnknownMaterial(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
		recorded:    []string{"c1", "c2"},
	})

	var byPrefix control.HistoryResponse
	ts.call(t, control.ActionHistory, control.HistoryRequest{
		Pipeline: "build",
		Material: appMaterial.Fingerprint()[:8],
		Limit:    1,
	}, &byPrefix)
	if len(byPrefix.Materials) != 1 {
		t.Fatalf("materials = %d, want 1", len(byPrefix.Materials))
	}
	if got := byPrefix.Materials[0].Modifications; len(got) != 1 || got[0].Revision != "c2" {
		t.Errorf("modifications = %+v, want newest c2 only", got)
	}

	err := ts.client.Call(context.Background(), control.ActionHistory, control.HistoryRequest{Pipeline: "build", Material: "docs"}, nil)
	if err == nil || !strings.Contains(err.Error(), `no material "docs"`) {
		t.Errorf("history of unknown material = %v", err)
	}
}

func TestQueueActionEmpty(t *testing.T) {
	ts := startServer(t, serverSetup{
		definitions: map[string]string{"build.jsonc": buildDefinition},
	})
	var queue control.QueueResponse
	ts.call(t, control.ActionQueue, nil, &queue)
	if len(queue.Entries) != 0 {
		t.Errorf("entries = %+v, want none", queue.Entries)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/checker"
	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/diskspace"
	"github.com/bureau-foundation/conveyor/lib/health"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
)

const (
	diskFullMessage      = "Conveyor server has run out of artifacts disk space. Scheduling has been stopped"
	invalidConfigMessage = "Conveyor server configuration is invalid. Scheduling has been stopped"
)

// Updater refreshes material histories for manual runs.
type Updater interface {
	Subscribe(fn func(history.Event)) (unsubscribe func())
	UpdateAll(ctx context.Context, materials []material.Material) error
}

// DiskChecker reports artifacts disk space.
type DiskChecker interface {
	Check() (diskspace.Status, error)
}

// Config wires a Producer. Configs, Checker, State, Queue, Monitor,
// Health, and Clock are required.
type Config struct {
	Configs checker.ConfigSource
	Checker *checker.Checker
	State   pipelinestate.Store
	Queue   *Queue
	Monitor *TriggerMonitor
	Health  *health.Registry
	Clock   clock.Clock
	Logger  *slog.Logger

	// Factory resolves pinned revisions. Defaults to a factory over
	// Checker and Configs.
	Factory *checker.SpecificRevisionFactory

	// History receives dependency modifications from upstream stage
	// completions. UpstreamCompleted fails without it.
	History history.Writer

	// Updater runs material updates before manual runs. Without it
	// manual runs use the history as it stands.
	Updater Updater

	// Disk is the artifacts disk gate. Nil disables the gate.
	Disk DiskChecker

	// MDUTimeout bounds the wait for a material update. Zero waits
	// until the update finishes.
	MDUTimeout time.Duration
}

// ManualRequest is an operator's request to run a pipeline.
type ManualRequest struct {
	Pipeline string `json:"pipeline" cbor:"pipeline"`
	Approver string `json:"approver,omitempty" cbor:"approver,omitempty"`

	// Revisions pins materials (by fingerprint) to revision tokens.
	Revisions map[string]string `json:"revisions,omitempty" cbor:"revisions,omitempty"`

	// PerformMDU refreshes every material before resolving revisions.
	PerformMDU bool `json:"perform_mdu,omitempty" cbor:"perform_mdu,omitempty"`

	Environment map[string]string `json:"environment,omitempty" cbor:"environment,omitempty"`

	// Wait blocks until the evaluation ends and returns its result
	// instead of Accepted.
	Wait bool `json:"wait,omitempty" cbor:"wait,omitempty"`
}

// StageCompletion reports an upstream stage that passed.
type StageCompletion struct {
	Pipeline     string    `json:"pipeline" cbor:"pipeline"`
	Counter      int       `json:"counter" cbor:"counter"`
	Label        string    `json:"label,omitempty" cbor:"label,omitempty"`
	Stage        string    `json:"stage" cbor:"stage"`
	StageCounter int       `json:"stage_counter" cbor:"stage_counter"`
	CompletedAt  time.Time `json:"completed_at" cbor:"completed_at"`
}

// Producer evaluates triggers into build causes.
type Producer struct {
	configs    checker.ConfigSource
	checker    *checker.Checker
	factory    *checker.SpecificRevisionFactory
	state      pipelinestate.Store
	history    history.Writer
	updater    Updater
	queue      *Queue
	monitor    *TriggerMonitor
	health     *health.Registry
	disk       DiskChecker
	clock      clock.Clock
	logger     *slog.Logger
	mduTimeout time.Duration

	// background tracks evaluations and updates started without a
	// waiting caller.
	background sync.WaitGroup
}

// NewProducer returns a Producer.
func NewProducer(cfg Config) *Producer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	factory := cfg.Factory
	if factory == nil {
		factory = checker.NewSpecificRevisionFactory(cfg.Checker, cfg.Configs)
	}
	return &Producer{
		configs:    cfg.Configs,
		checker:    cfg.Checker,
		factory:    factory,
		state:      cfg.State,
		history:    cfg.History,
		updater:    cfg.Updater,
		queue:      cfg.Queue,
		monitor:    cfg.Monitor,
		health:     cfg.Health,
		disk:       cfg.Disk,
		clock:      cfg.Clock,
		logger:     logger,
		mduTimeout: cfg.MDUTimeout,
	}
}

// Wait blocks until background evaluations finish.
func (p *Producer) Wait() {
	p.background.Wait()
}

// AutoSchedule evaluates pipeline after its materials changed.
func (p *Producer) AutoSchedule(ctx context.Context, pipeline string) Result {
	return p.auto(ctx, pipeline, buildcause.TriggerAuto)
}

func (p *Producer) auto(ctx context.Context, name string, trigger buildcause.Trigger) Result {
	pipeline, result, ok := p.gate(ctx, name, true)
	if !ok {
		return result
	}
	return p.evaluateChanges(ctx, pipeline, trigger)
}

// TimerSchedule evaluates pipeline for its timer. A timer marked only
// on changes behaves like an automatic trigger; otherwise the pipeline
// runs with its latest revisions.
func (p *Producer) TimerSchedule(ctx context.Context, name string) Result {
	pipeline, result, ok := p.gate(ctx, name, true)
	if !ok {
		return result
	}
	if pipeline.Timer == nil {
		p.monitor.Clear(pipeline.Name)
		return Skipped(fmt.Sprintf("Pipeline %s has no timer", pipeline.Name))
	}
	if pipeline.Timer.OnlyOnChanges {
		return p.evaluateChanges(ctx, pipeline, buildcause.TriggerTimer)
	}
	return p.evaluateLatest(ctx, pipeline)
}

// ManualSchedule evaluates an operator request. Without a material
// update to wait for, the evaluation runs to completion and its result
// is returned. Otherwise the requested fingerprints are checked (and,
// without PerformMDU, the pinned tokens resolved) before it answers
// Accepted and finishes in the background; request.Wait instead blocks
// until the evaluation ends.
func (p *Producer) ManualSchedule(ctx context.Context, request ManualRequest) Result {
	pipeline, result, ok := p.gate(ctx, request.Pipeline, false)
	if !ok {
		return result
	}
	if len(p.refreshMaterials(pipeline, request.PerformMDU)) == 0 {
		return p.evaluateManual(ctx, pipeline, request)
	}
	if err := p.checkRequest(ctx, pipeline, request); err != nil {
		p.monitor.Clear(pipeline.Name)
		return errorResult(err)
	}

	done := make(chan Result, 1)
	evaluation := context.WithoutCancel(ctx)
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		result := p.evaluateManual(evaluation, pipeline, request)
		if !result.Success {
			p.logger.Warn("manual trigger failed",
				"pipeline", pipeline.Name,
				"status", result.Status,
				"message", result.Message,
			)
		}
		done <- result
	}()

	if !request.Wait {
		return Accepted(pipeline.Name)
	}
	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return Accepted(pipeline.Name)
	}
}

// checkRequest rejects a request that can never succeed before the
// material update runs. Pinned tokens of an updated material resolve
// only after the update.
func (p *Producer) checkRequest(ctx context.Context, pipeline *pipelineconfig.Pipeline, request ManualRequest) error {
	if len(request.Revisions) == 0 {
		return nil
	}
	if request.PerformMDU {
		return p.factory.Check(pipeline, request.Revisions)
	}
	_, err := p.factory.Create(ctx, pipeline.Name, request.Revisions)
	return err
}

// UpstreamCompleted records the dependency modification produced by a
// passed stage and evaluates every pipeline depending on it.
func (p *Producer) UpstreamCompleted(ctx context.Context, completion StageCompletion) []Result {
	revision := material.DependencyRevision{
		Pipeline:        completion.Pipeline,
		PipelineCounter: completion.Counter,
		Stage:           completion.Stage,
		StageCounter:    completion.StageCounter,
	}
	if _, err := material.ParseDependencyRevision(revision.String()); err != nil {
		return []Result{Unprocessable(err.Error())}
	}
	if p.history == nil {
		return []Result{InternalError("upstream completions are not recorded by this server")}
	}

	dependency := material.Material{Kind: material.Dependency, Pipeline: completion.Pipeline, Stage: completion.Stage}
	modification := history.DependencyModification(revision, completion.Label, completion.CompletedAt)
	if _, err := p.history.Record(ctx, dependency, material.Modifications{modification}); err != nil {
		return []Result{InternalError(err.Error())}
	}
	p.logger.Info("upstream stage passed",
		"pipeline", completion.Pipeline,
		"stage", completion.Stage,
		"revision", revision.String(),
	)

	var results []Result
	for _, downstream := range p.configs.Current().Downstream(completion.Pipeline, completion.Stage) {
		results = append(results, p.auto(ctx, downstream.Name, buildcause.TriggerUpstream))
	}
	return results
}

// HandleUpdate evaluates, in the background, every pipeline using a
// material that an update found new modifications for. It is an
// Updater subscriber and does not block.
func (p *Producer) HandleUpdate(event history.Event) {
	if event.Err != nil || len(event.New) == 0 {
		return
	}
	for _, pipeline := range p.configs.Current().PipelinesUsing(event.Fingerprint) {
		p.background.Add(1)
		go func() {
			defer p.background.Done()
			p.AutoSchedule(context.Background(), pipeline.Name)
		}()
	}
}

// Sweep evaluates every configured pipeline automatically. Pipelines
// whose materials did not change are left alone; the sweep picks up
// configuration changes and anything a missed event left behind.
func (p *Producer) Sweep(ctx context.Context) []Result {
	var results []Result
	for _, pipeline := range p.configs.Current().Pipelines() {
		results = append(results, p.AutoSchedule(ctx, pipeline.Name))
	}
	return results
}

// gate runs the checks every trigger passes, in order, and claims the
// pipeline. On failure it returns the result to answer with.
func (p *Producer) gate(ctx context.Context, name string, automatic bool) (*pipelineconfig.Pipeline, Result, bool) {
	snapshot := p.configs.Current()
	pipeline, err := snapshot.Pipeline(name)
	if err != nil {
		return nil, NotFound(err.Error()), false
	}
	name = pipeline.Name

	pause, err := p.state.PauseState(ctx, name)
	switch {
	case err == nil:
		message := fmt.Sprintf("Pipeline %s is paused", name)
		if pause.Reason != "" {
			message += ": " + pause.Reason
		}
		return nil, Conflict(message), false
	case !errors.Is(err, pipelinestate.ErrNotFound):
		return nil, InternalError(err.Error()), false
	}

	if result, ok := p.checkDisk(); !ok {
		return nil, result, false
	}

	if !snapshot.Valid() {
		p.health.ReportError(health.KeyInvalidConfig, invalidConfigMessage, strings.Join(snapshot.Issues(), "\n"))
		return nil, Unavailable(invalidConfigMessage), false
	}
	p.health.Clear(health.KeyInvalidConfig)

	if automatic && pipeline.ManualFirstStage() {
		return nil, Skipped(fmt.Sprintf("Pipeline %s requires manual approval of its first stage", name)), false
	}

	if !p.monitor.MarkTriggered(name) {
		p.logger.Info("pipeline already triggered, skipping", "pipeline", name)
		return nil, AlreadyTriggered(name), false
	}
	return pipeline, Result{}, true
}

func (p *Producer) checkDisk() (Result, bool) {
	if p.disk == nil {
		return Result{}, true
	}
	status, err := p.disk.Check()
	if err != nil {
		p.logger.Warn("artifacts disk check failed", "error", err)
		return Result{}, true
	}
	if status.Low() {
		p.health.ReportError(health.KeyArtifactsDiskFull, diskFullMessage, status.String())
		return Unavailable(diskFullMessage), false
	}
	p.health.Clear(health.KeyArtifactsDiskFull)
	return Result{}, true
}

// evaluateChanges schedules pipeline if its materials changed since the
// last cause. The claim is released unless a cause is queued.
func (p *Producer) evaluateChanges(ctx context.Context, pipeline *pipelineconfig.Pipeline, trigger buildcause.Trigger) Result {
	name := pipeline.Name
	queued := false
	defer func() {
		if !queued {
			p.monitor.Clear(name)
		}
	}()

	previous, version, err := p.state.LastCause(ctx, name)
	if err != nil {
		return InternalError(err.Error())
	}
	revisions, err := p.checker.LatestChanges(ctx, pipeline.Materials, previous)
	if err != nil {
		p.logger.Warn("computing changes failed", "pipeline", name, "error", err)
		return InternalError(err.Error())
	}
	revisions, err = p.reconcileBuilt(ctx, name, revisions)
	if err != nil {
		return InternalError(err.Error())
	}
	if previous != nil {
		revisions = revisions.Filter(previous.Revisions)
	}

	now := p.clock.Now()
	cause := buildcause.NewAutomatic(trigger, revisions, pipeline.Materials, now)
	if trigger == buildcause.TriggerTimer {
		cause = buildcause.NewTimer(revisions, pipeline.Materials, now)
	}
	if err := cause.Validate(); err != nil {
		p.logger.Info("pipeline not scheduled", "pipeline", name, "reason", err)
		return NotScheduled(fmt.Sprintf("Pipeline %s not scheduled: %v", name, err))
	}

	if !cause.IsChanged() {
		if !previous.ComputedAgainst(pipeline.Materials) {
			// The material configuration changed: the stored cause no
			// longer describes this pipeline.
			if _, err := p.state.ReplaceCause(ctx, name, version, cause); err != nil {
				p.logger.Warn("replacing stale build cause failed", "pipeline", name, "error", err)
			}
		}
		p.logger.Debug("no modifications", "pipeline", name, "trigger", trigger)
		return NotScheduled(fmt.Sprintf("No modifications for pipeline %s", name))
	}

	result, queued := p.handOff(ctx, name, version, cause)
	return result
}

// evaluateLatest schedules pipeline with its latest revisions
// regardless of changes.
func (p *Producer) evaluateLatest(ctx context.Context, pipeline *pipelineconfig.Pipeline) Result {
	name := pipeline.Name
	queued := false
	defer func() {
		if !queued {
			p.monitor.Clear(name)
		}
	}()

	previous, version, err := p.state.LastCause(ctx, name)
	if err != nil {
		return InternalError(err.Error())
	}
	revisions, err := p.checker.LatestRevisions(ctx, pipeline.Materials, previous)
	if err != nil {
		return InternalError(err.Error())
	}
	revisions, err = p.reconcileBuilt(ctx, name, revisions)
	if err != nil {
		return InternalError(err.Error())
	}

	cause := buildcause.NewTimer(revisions, pipeline.Materials, p.clock.Now())
	if err := cause.Validate(); err != nil {
		return NotScheduled(fmt.Sprintf("Pipeline %s not scheduled: %v", name, err))
	}
	result, queued := p.handOff(ctx, name, version, cause)
	return result
}

func (p *Producer) evaluateManual(ctx context.Context, pipeline *pipelineconfig.Pipeline, request ManualRequest) Result {
	name := pipeline.Name
	queued := false
	defer func() {
		if !queued {
			p.monitor.Clear(name)
		}
	}()

	if err := p.refresh(ctx, pipeline, request.PerformMDU); err != nil {
		return InternalError(err.Error())
	}

	previous, version, err := p.state.LastCause(ctx, name)
	if err != nil {
		return InternalError(err.Error())
	}

	var revisions buildcause.MaterialRevisions
	if len(request.Revisions) > 0 {
		revisions, err = p.factory.Create(ctx, name, request.Revisions)
	} else {
		revisions, err = p.checker.LatestRevisions(ctx, pipeline.Materials, previous)
	}
	if err != nil {
		return errorResult(err)
	}
	revisions, err = p.reconcileBuilt(ctx, name, revisions)
	if err != nil {
		return InternalError(err.Error())
	}

	approver := request.Approver
	if approver == "" {
		approver = "anonymous"
	}
	cause := buildcause.NewManual(revisions, pipeline.Materials, approver, p.clock.Now())
	cause.Environment = maps.Clone(request.Environment)
	if err := cause.Validate(); err != nil {
		return Unprocessable(fmt.Sprintf("Pipeline %s cannot be scheduled: %v", name, err))
	}

	result, queued := p.handOff(ctx, name, version, cause)
	return result
}

// refresh updates the materials a manual run must see fresh and waits
// for the update to finish.
func (p *Producer) refresh(ctx context.Context, pipeline *pipelineconfig.Pipeline, performMDU bool) error {
	materials := p.refreshMaterials(pipeline, performMDU)
	if len(materials) == 0 {
		return nil
	}

	waiter := NewMDUWaiter(pipeline.Name, materials)
	unsubscribe := p.updater.Subscribe(waiter.Observe)
	defer unsubscribe()

	p.background.Add(1)
	go func() {
		defer p.background.Done()
		// Failures reach the waiter as events.
		p.updater.UpdateAll(context.WithoutCancel(ctx), materials)
	}()
	return waiter.Wait(ctx, p.clock, p.mduTimeout)
}

// refreshMaterials lists what refresh updates: every material with
// performMDU, and always the definition's origin. It is empty without
// an updater.
func (p *Producer) refreshMaterials(pipeline *pipelineconfig.Pipeline, performMDU bool) []material.Material {
	if p.updater == nil {
		return nil
	}
	var materials []material.Material
	if performMDU {
		materials = append(materials, pipeline.Materials...)
	}
	if pipeline.Origin != nil {
		materials = append(materials, *pipeline.Origin)
	}
	return materials
}

// reconcileBuilt applies what the pipeline already built: a changed
// revision keeps only the modifications newer than the newest one built
// for its material, and is flagged unchanged when none are.
func (p *Producer) reconcileBuilt(ctx context.Context, pipeline string, revisions buildcause.MaterialRevisions) (buildcause.MaterialRevisions, error) {
	built, err := p.state.BuiltModificationIDs(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	reconciled := revisions.Clone()
	for index, revision := range reconciled {
		builtID, ok := built[revision.Fingerprint()]
		if !ok || revision.IsEmpty() || !revision.IsChanged() {
			continue
		}
		newer := revision.NewerThan(builtID)
		if len(newer) == 0 {
			reconciled[index] = revision.WithChanged(false)
			continue
		}
		reconciled[index] = buildcause.NewMaterialRevision(revision.Material, true, newer...)
	}
	return reconciled, nil
}

// handOff stores cause as the pipeline's last cause and queues it. The
// boolean reports whether a queued cause now owns the claim.
func (p *Producer) handOff(ctx context.Context, name string, version int64, cause *buildcause.BuildCause) (Result, bool) {
	if _, err := p.state.ReplaceCause(ctx, name, version, cause); err != nil {
		if errors.Is(err, pipelinestate.ErrVersionConflict) {
			p.logger.Warn("build cause changed during evaluation", "pipeline", name, "error", err)
			return Conflict(err.Error()), false
		}
		return InternalError(err.Error()), false
	}

	if err := p.queue.Enqueue(name, cause); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			p.logger.Info("pipeline already queued, skipping", "pipeline", name)
			return AlreadyTriggered(name), true
		}
		return InternalError(err.Error()), false
	}

	p.logger.Info("build cause queued",
		"pipeline", name,
		"trigger", cause.Trigger,
		"approver", cause.Approver,
		"cause", cause.ID,
	)
	return Scheduled(fmt.Sprintf("Pipeline %s scheduled: %s", name, cause.Message)), true
}

// errorResult maps resolution errors to results.
func errorResult(err error) Result {
	var (
		pipelineMissing *pipelineconfig.PipelineNotFoundError
		materialMissing *checker.MaterialNotFoundError
		revisionMissing *checker.NotFoundError
	)
	switch {
	case errors.As(err, &pipelineMissing):
		return NotFound(err.Error())
	case errors.As(err, &materialMissing), errors.As(err, &revisionMissing):
		return Unprocessable(err.Error())
	default:
		return InternalError(err.Error())
	}
}

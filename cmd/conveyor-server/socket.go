// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/codec"
	"github.com/bureau-foundation/conveyor/lib/control"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/schedule"
	"github.com/bureau-foundation/conveyor/lib/service"
)

// defaultListLimit applies to history and instances requests without a
// limit.
const defaultListLimit = 10

// anonymous stands in for a pause or trigger without a user.
const anonymous = "anonymous"

// registerActions registers the control socket actions.
func (s *Server) registerActions(server *service.SocketServer) {
	server.Handle(control.ActionTrigger, s.handleTrigger)
	server.Handle(control.ActionPause, s.handlePause)
	server.Handle(control.ActionUnpause, s.handleUnpause)
	server.Handle(control.ActionStatus, s.handleStatus)
	server.Handle(control.ActionQueue, s.handleQueue)
	server.Handle(control.ActionStagePassed, s.handleStagePassed)
	server.Handle(control.ActionReload, s.handleReload)
	server.Handle(control.ActionHistory, s.handleHistory)
	server.Handle(control.ActionInstances, s.handleInstances)
}

func decodeRequest(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// pipeline resolves name against the current configuration.
func (s *Server) pipeline(name string) (*pipelineconfig.Pipeline, error) {
	if name == "" {
		return nil, errors.New("missing required field: pipeline")
	}
	return s.configs.Current().Pipeline(name)
}

// handleTrigger runs a manual trigger. Scheduling rejections come back
// as an unsuccessful Result rather than a socket error so the caller
// sees the status code.
func (s *Server) handleTrigger(ctx context.Context, raw []byte) (any, error) {
	var request control.TriggerRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Pipeline == "" {
		return nil, errors.New("missing required field: pipeline")
	}
	if len(request.Revisions) > 0 {
		if pipeline, err := s.configs.Current().Pipeline(request.Pipeline); err == nil {
			revisions, err := resolveRevisionKeys(pipeline, request.Revisions)
			if err != nil {
				return control.TriggerResponse{Result: schedule.Unprocessable(err.Error())}, nil
			}
			request.Revisions = revisions
		}
	}
	result := s.producer.ManualSchedule(ctx, request)
	return control.TriggerResponse{Result: result}, nil
}

// resolveRevisionKeys rewrites pinned revision keys given as material
// names or fingerprint prefixes into full fingerprints. Keys matching no
// material pass through so scheduling reports them as not found. Two
// keys selecting the same material are rejected.
func resolveRevisionKeys(pipeline *pipelineconfig.Pipeline, requested map[string]string) (map[string]string, error) {
	keys := slices.Sorted(maps.Keys(requested))
	resolved := make(map[string]string, len(requested))
	selectedBy := make(map[string]string, len(requested))
	for _, key := range keys {
		var matches []material.Material
		for _, m := range pipeline.Materials {
			if selectsMaterial(key, m) {
				matches = append(matches, m)
			}
		}
		switch len(matches) {
		case 0:
			resolved[key] = requested[key]
		case 1:
			fingerprint := matches[0].PipelineUniqueFingerprint()
			if previous, ok := selectedBy[fingerprint]; ok {
				return nil, fmt.Errorf("Pipeline %s: %q and %q select the same material %s", pipeline.Name, previous, key, matches[0].DisplayName())
			}
			selectedBy[fingerprint] = key
			resolved[fingerprint] = requested[key]
		default:
			return nil, fmt.Errorf("Pipeline %s: material %q is ambiguous (%d materials match)", pipeline.Name, key, len(matches))
		}
	}
	return resolved, nil
}

func (s *Server) handlePause(ctx context.Context, raw []byte) (any, error) {
	var request control.PauseRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	pipeline, err := s.pipeline(request.Pipeline)
	if err != nil {
		return nil, err
	}
	pause := pipelinestate.Pause{
		Pipeline: pipeline.Name,
		By:       request.By,
		Reason:   request.Reason,
		At:       s.clock.Now(),
	}
	if pause.By == "" {
		pause.By = anonymous
	}
	if err := s.state.Pause(ctx, pause); err != nil {
		return nil, err
	}
	s.logger.Info("pipeline paused", "pipeline", pause.Pipeline, "by", pause.By, "reason", pause.Reason)
	return control.PauseResponse{Pause: pause}, nil
}

func (s *Server) handleUnpause(ctx context.Context, raw []byte) (any, error) {
	var request control.UnpauseRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	pipeline, err := s.pipeline(request.Pipeline)
	if err != nil {
		return nil, err
	}
	wasPaused, err := s.state.Unpause(ctx, pipeline.Name)
	if err != nil {
		return nil, err
	}
	if wasPaused {
		s.logger.Info("pipeline unpaused", "pipeline", pipeline.Name)
	}
	return control.UnpauseResponse{Pipeline: pipeline.Name, WasPaused: wasPaused}, nil
}

func (s *Server) handleStatus(ctx context.Context, raw []byte) (any, error) {
	snapshot := s.configs.Current()
	queued := s.queue.Pending()
	response := control.StatusResponse{
		StartedAt:      s.startedAt,
		ConfigVersion:  snapshot.Version(),
		ConfigLoadedAt: snapshot.LoadedAt(),
		ConfigIssues:   snapshot.Issues(),
		Health:         s.health.States(),
		Triggered:      s.monitor.Triggered(),
		Queued:         queued,
	}

	pauses, err := s.state.Pauses(ctx)
	if err != nil {
		return nil, err
	}
	pausedBy := make(map[string]pipelinestate.Pause, len(pauses))
	for _, pause := range pauses {
		pausedBy[pause.Pipeline] = pause
	}
	queuedBy := make(map[string]bool, len(queued))
	for _, entry := range queued {
		queuedBy[entry.Pipeline] = true
	}
	armed := s.timers.Armed()

	for _, pipeline := range snapshot.Pipelines() {
		status := control.PipelineStatus{
			Name:      pipeline.Name,
			Materials: len(pipeline.Materials),
			Triggered: s.monitor.IsTriggered(pipeline.Name),
			Queued:    queuedBy[pipeline.Name],
			NextTimer: armed[pipeline.Name],
		}
		if pause, ok := pausedBy[pipeline.Name]; ok {
			status.Pause = &pause
		}
		latest, err := s.state.LatestInstance(ctx, pipeline.Name)
		switch {
		case err == nil:
			status.LastCounter = latest.Counter
			status.LastLabel = latest.Label
		case !errors.Is(err, pipelinestate.ErrNotFound):
			return nil, err
		}
		response.Pipelines = append(response.Pipelines, status)
	}
	return response, nil
}

func (s *Server) handleQueue(ctx context.Context, raw []byte) (any, error) {
	return control.QueueResponse{Entries: s.queue.Pending()}, nil
}

func (s *Server) handleStagePassed(ctx context.Context, raw []byte) (any, error) {
	var request control.StagePassedRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.CompletedAt.IsZero() {
		request.CompletedAt = s.clock.Now()
	}
	return control.StagePassedResponse{Results: s.producer.UpstreamCompleted(ctx, request)}, nil
}

func (s *Server) handleReload(ctx context.Context, raw []byte) (any, error) {
	snapshot := s.Reload()
	return control.ReloadResponse{
		Version:   snapshot.Version(),
		Pipelines: len(snapshot.Pipelines()),
		Issues:    snapshot.Issues(),
	}, nil
}

func (s *Server) handleHistory(ctx context.Context, raw []byte) (any, error) {
	var request control.HistoryRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	pipeline, err := s.pipeline(request.Pipeline)
	if err != nil {
		return nil, err
	}
	limit := request.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	materials := pipeline.Materials
	if pipeline.Origin != nil {
		materials = append(materials[:len(materials):len(materials)], *pipeline.Origin)
	}

	var response control.HistoryResponse
	for _, m := range materials {
		if !selectsMaterial(request.Material, m) {
			continue
		}
		modifications, err := s.history.Recent(ctx, m, limit)
		if err != nil {
			return nil, err
		}
		response.Materials = append(response.Materials, control.MaterialHistory{
			Name:          m.Name,
			Kind:          m.Kind,
			DisplayName:   m.DisplayName(),
			Fingerprint:   m.Fingerprint(),
			Modifications: modifications,
		})
	}
	if request.Material != "" && len(response.Materials) == 0 {
		return nil, fmt.Errorf("pipeline %s has no material %q", pipeline.Name, request.Material)
	}
	return response, nil
}

// selectsMaterial matches a material by name, case-insensitively, or by
// a fingerprint prefix. An empty selector matches everything.
func selectsMaterial(selector string, m material.Material) bool {
	if selector == "" {
		return true
	}
	if m.Name != "" && strings.EqualFold(m.Name, selector) {
		return true
	}
	return strings.HasPrefix(m.Fingerprint(), strings.ToLower(selector)) ||
		strings.HasPrefix(m.PipelineUniqueFingerprint(), strings.ToLower(selector))
}

func (s *Server) handleInstances(ctx context.Context, raw []byte) (any, error) {
	var request control.InstancesRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	pipeline, err := s.pipeline(request.Pipeline)
	if err != nil {
		return nil, err
	}
	limit := request.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	instances, err := s.state.Instances(ctx, pipeline.Name, limit)
	if err != nil {
		return nil, err
	}
	return control.InstancesResponse{Instances: instances}, nil
}

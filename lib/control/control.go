// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control defines the actions served on conveyor-server's
// control socket and their request and response payloads. The server
// registers a handler per action; the CLI sends the same types through
// a service.Client.
package control

import (
	"time"

	"github.com/bureau-foundation/conveyor/lib/health"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/schedule"
)

// Action names.
const (
	ActionTrigger     = "trigger"
	ActionPause       = "pause"
	ActionUnpause     = "unpause"
	ActionStatus      = "status"
	ActionQueue       = "queue"
	ActionStagePassed = "stage-passed"
	ActionReload      = "reload"
	ActionHistory     = "history"
	ActionInstances   = "instances"
)

// TriggerRequest is a manual run request. See schedule.ManualRequest.
type TriggerRequest = schedule.ManualRequest

// TriggerResponse carries the scheduling result. A rejected trigger is
// still a successful socket call; Result.Success tells them apart.
type TriggerResponse struct {
	Result schedule.Result `cbor:"result"`
}

type PauseRequest struct {
	Pipeline string `cbor:"pipeline"`
	By       string `cbor:"by,omitempty"`
	Reason   string `cbor:"reason,omitempty"`
}

type PauseResponse struct {
	Pause pipelinestate.Pause `cbor:"pause"`
}

type UnpauseRequest struct {
	Pipeline string `cbor:"pipeline"`
}

type UnpauseResponse struct {
	Pipeline string `cbor:"pipeline"`
	// WasPaused is false when the pipeline was not paused.
	WasPaused bool `cbor:"was_paused"`
}

// StatusResponse is the server overview.
type StatusResponse struct {
	StartedAt time.Time `cbor:"started_at"`

	ConfigVersion  uint64    `cbor:"config_version"`
	ConfigLoadedAt time.Time `cbor:"config_loaded_at"`
	ConfigIssues   []string  `cbor:"config_issues,omitempty"`

	Health    []health.State   `cbor:"health,omitempty"`
	Triggered []string         `cbor:"triggered,omitempty"`
	Queued    []schedule.Entry `cbor:"queued,omitempty"`
	Pipelines []PipelineStatus `cbor:"pipelines,omitempty"`
}

// PipelineStatus summarizes one configured pipeline.
type PipelineStatus struct {
	Name      string               `cbor:"name"`
	Materials int                  `cbor:"materials"`
	Pause     *pipelinestate.Pause `cbor:"pause,omitempty"`
	Triggered bool                 `cbor:"triggered,omitempty"`
	Queued    bool                 `cbor:"queued,omitempty"`

	// LastCounter is zero before the first instance.
	LastCounter int64     `cbor:"last_counter,omitempty"`
	LastLabel   string    `cbor:"last_label,omitempty"`
	NextTimer   time.Time `cbor:"next_timer,omitempty"`
}

type QueueResponse struct {
	Entries []schedule.Entry `cbor:"entries"`
}

// StagePassedRequest reports a passed upstream stage. See
// schedule.StageCompletion.
type StagePassedRequest = schedule.StageCompletion

// StagePassedResponse holds one result per downstream pipeline.
type StagePassedResponse struct {
	Results []schedule.Result `cbor:"results"`
}

type ReloadResponse struct {
	Version   uint64   `cbor:"version"`
	Pipelines int      `cbor:"pipelines"`
	Issues    []string `cbor:"issues,omitempty"`
}

// HistoryRequest selects the materials of a pipeline. Material, when
// set, narrows to the material with that name or a fingerprint starting
// with it.
type HistoryRequest struct {
	Pipeline string `cbor:"pipeline"`
	Material string `cbor:"material,omitempty"`
	// Limit defaults to 10.
	Limit int `cbor:"limit,omitempty"`
}

type HistoryResponse struct {
	Materials []MaterialHistory `cbor:"materials"`
}

// MaterialHistory is the newest part of one material's history.
type MaterialHistory struct {
	Name          string                 `cbor:"name,omitempty"`
	Kind          material.Kind          `cbor:"kind"`
	DisplayName   string                 `cbor:"display_name"`
	Fingerprint   string                 `cbor:"fingerprint"`
	Modifications material.Modifications `cbor:"modifications"`
}

type InstancesRequest struct {
	Pipeline string `cbor:"pipeline"`
	// Limit defaults to 10.
	Limit int `cbor:"limit,omitempty"`
}

type InstancesResponse struct {
	Instances []pipelinestate.Instance `cbor:"instances"`
}

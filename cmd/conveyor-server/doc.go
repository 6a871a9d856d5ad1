// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Conveyor-server watches pipeline materials and produces build causes.
//
// It loads pipeline definitions from the configured pipelines
// directory, polls every auto-update material on the poll interval,
// and evaluates the pipelines using a material whenever new
// modifications appear. Timer pipelines are evaluated on their cron
// specification, and every pipeline is re-evaluated on the sweep
// interval. Causes that pass the gates are queued, and each queued
// cause becomes a numbered, labelled pipeline instance.
//
// Operators drive the server through its control socket with the
// conveyor CLI: manual triggers, pause and unpause, stage completion
// reports, configuration reload, and status queries. SIGHUP also
// reloads the pipeline definitions.
//
// Usage:
//
//	conveyor-server --config /etc/conveyor/conveyor.yaml
package main

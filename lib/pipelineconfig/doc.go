// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelineconfig loads and serves pipeline definitions.
//
// Definitions are authored as JSONC files (JSON with comments and
// trailing commas), one pipeline per file, in a single directory. The
// file name without extension is the pipeline name.
//
// A [Store] loads the directory into an immutable [Snapshot]. The
// scheduler reads [Store.Current] once per evaluation and never
// mutates what it gets. Reload swaps in a new snapshot atomically;
// when the new files do not validate, the previous pipelines stay in
// service and the snapshot carries the issues, which blocks scheduling
// until the files are fixed.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Pipeline
//  2. NewSnapshot: defaults applied, per-pipeline and cross-pipeline
//     validation (dependency targets, cycles)
//  3. Snapshot.Pipeline / PipelinesUsing / Downstream for lookups
package pipelineconfig

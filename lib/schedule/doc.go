// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule decides when a pipeline runs.
//
// Every trigger (a material update, a timer, an operator, an upstream
// stage passing) lands in the [Producer]. The producer passes the
// pipeline through a fixed series of gates: the pipeline must exist,
// must not be paused, the artifacts disk must have room, and the
// configuration must be valid. It then claims the pipeline in the
// [TriggerMonitor]. Only one evaluation per pipeline runs at a time;
// a trigger that finds the pipeline already claimed is skipped, not
// queued behind it.
//
// The claimed evaluation resolves a revision set with the checker,
// reconciles each material's changed flag against what the pipeline
// has already built, applies material filters, and decides. A
// scheduled cause is stored as the pipeline's last cause and handed to
// the [Queue]. The [Instantiator] drains the queue into pipeline
// instances and releases the claim. Evaluations that end without a
// cause release it themselves.
//
// Operations answer with a [Result] that carries an HTTP-style status
// code, so the socket layer can pass it through unchanged.
package schedule

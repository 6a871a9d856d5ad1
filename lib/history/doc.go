// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history records the modifications discovered on each
// material and refreshes them on demand.
//
// A [Store] keeps, per material fingerprint, the modifications in the
// order they were discovered. Each recorded modification receives an
// ID from a store-wide sequence, so a larger ID always means a later
// discovery. Readers see fragments newest first.
//
// Pollers know how to ask a material's source for changes. The
// [Registry] maps material kinds to pollers; [GitPoller] talks to git
// through mirror clones and [DependencyPoller] serves dependency
// materials, whose modifications arrive as stage completions recorded
// with [DependencyModification].
//
// The [Updater] ties the two together: it runs the poller for a
// material, records what the poller found, reports failures to the
// server health registry, and publishes an [Event] to subscribers
// once each update finishes. Concurrent updates of one material are
// coalesced into a single poll.
package history

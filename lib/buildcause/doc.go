// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildcause holds the values that justify a pipeline run.
//
// A [MaterialRevision] pairs one material with the modifications seen
// for it in an evaluation. Its identity ([Snapshot]) and its
// transient [Status] are separate fields: Equal and Key look only at
// the snapshot, so whether a revision counts as "changed" never
// affects how it compares or hashes.
//
// [MaterialRevisions] is the ordered per-pipeline set, one entry per
// material fingerprint. [BuildCause] wraps a MaterialRevisions with
// provenance (trigger kind, approver, message) and the fingerprint of
// the material configuration it was computed against.
package buildcause

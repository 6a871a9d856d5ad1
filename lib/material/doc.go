// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package material defines the change sources a pipeline consumes and
// the history records they produce.
//
// A [Material] is a closed tagged union over [Kind]: source control
// repositories (git, hg, svn, p4, tfs), dependencies on a stage of an
// upstream pipeline, package repositories, and plugin-defined SCMs.
// Each material has two stable identities:
//
//   - [Material.Fingerprint] covers only the attributes that decide
//     where changes come from (kind, URL, branch, upstream pipeline
//     and stage, ...). Two pipelines polling the same repository share
//     a fingerprint and therefore share history.
//   - [Material.PipelineUniqueFingerprint] additionally covers the
//     checkout folder, so two checkouts of one repository inside the
//     same pipeline stay distinguishable.
//
// Fingerprints are BLAKE3 keyed hashes over the deterministic CBOR
// encoding of the identifying attributes. Filters, display names, and
// credentials never contribute: changing an ignore pattern does not
// orphan a material's history.
//
// A [Modification] is one historical change. Histories are ordered
// newest first. Revision tokens are opaque except for dependency
// materials, whose "pipeline/counter/stage/counter" tokens are ordered
// numerically by [DependencyOrdering]; every other kind relies on the
// order of its history ([PositionalOrdering]).
//
// A [Filter] is the per-material list of ignore patterns (or, when
// inverted, the list of paths that matter). Filters compare
// structurally: two filters built independently from the same pattern
// set are equal and suppress the same modifications.
package material

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package checker turns material histories into the revision sets of
// build causes: the latest changes since a previous cause, the latest
// revision of each material, or revisions pinned by an operator.
package checker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
)

// NotFoundError reports a revision token that the material's history
// cannot resolve.
type NotFoundError struct {
	Material material.Material
	Revision string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Unable to find revision [%s] for material [%s]", e.Revision, e.Material.DisplayName())
}

// Checker reads material histories.
type Checker struct {
	history history.Reader
	logger  *slog.Logger
}

// New returns a Checker over reader.
func New(reader history.Reader, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{history: reader, logger: logger}
}

// FindSpecificRevision resolves token to the single modification that
// carries it.
func (c *Checker) FindSpecificRevision(ctx context.Context, m material.Material, token string) (buildcause.MaterialRevision, error) {
	modification, ok, err := c.history.FindModification(ctx, m, token)
	if err != nil {
		return buildcause.MaterialRevision{}, fmt.Errorf("checker: %w", err)
	}
	if !ok {
		return buildcause.MaterialRevision{}, &NotFoundError{Material: m, Revision: token}
	}
	return buildcause.NewMaterialRevision(m, true, modification), nil
}

// LatestChanges computes, for each material, what changed since the
// revision recorded for it in previous. A material absent from
// previous (or previous nil) contributes its latest modification,
// flagged changed. A material with nothing new keeps the previous
// latest modification, flagged unchanged. A material whose history is
// empty contributes an empty revision.
func (c *Checker) LatestChanges(ctx context.Context, materials []material.Material, previous *buildcause.BuildCause) (buildcause.MaterialRevisions, error) {
	var prior buildcause.MaterialRevisions
	if previous != nil {
		prior = previous.Revisions
	}

	revisions := make(buildcause.MaterialRevisions, 0, len(materials))
	for _, m := range materials {
		before, ok := prior.Find(m.Fingerprint())
		if !ok || before.IsEmpty() {
			revision, err := c.latest(ctx, m, true)
			if err != nil {
				return nil, err
			}
			revisions.Add(revision)
			continue
		}

		mods, err := c.history.ModificationsSince(ctx, m, before.Revision())
		if err != nil {
			return nil, fmt.Errorf("checker: %w", err)
		}
		if len(mods) == 0 {
			latest, _ := before.Latest()
			revisions.Add(buildcause.NewMaterialRevision(m, false, latest))
			continue
		}
		c.logger.Debug("material has new modifications",
			"material", m.DisplayName(),
			"since", before.Revision(),
			"count", len(mods),
		)
		revisions.Add(buildcause.NewMaterialRevision(m, true, mods...))
	}
	return revisions, nil
}

// LatestRevisions returns the latest modification of each material.
// An entry is flagged changed when previous has a different revision
// for the material or none at all.
func (c *Checker) LatestRevisions(ctx context.Context, materials []material.Material, previous *buildcause.BuildCause) (buildcause.MaterialRevisions, error) {
	var prior buildcause.MaterialRevisions
	if previous != nil {
		prior = previous.Revisions
	}

	revisions := make(buildcause.MaterialRevisions, 0, len(materials))
	for _, m := range materials {
		revision, err := c.latest(ctx, m, true)
		if err != nil {
			return nil, err
		}
		if before, ok := prior.Find(m.Fingerprint()); ok && before.Revision() == revision.Revision() {
			revision = revision.WithChanged(false)
		}
		revisions.Add(revision)
	}
	return revisions, nil
}

func (c *Checker) latest(ctx context.Context, m material.Material, changed bool) (buildcause.MaterialRevision, error) {
	modification, ok, err := c.history.LatestModification(ctx, m)
	if err != nil {
		return buildcause.MaterialRevision{}, fmt.Errorf("checker: %w", err)
	}
	if !ok {
		return buildcause.NewMaterialRevision(m, false), nil
	}
	return buildcause.NewMaterialRevision(m, changed, modification), nil
}

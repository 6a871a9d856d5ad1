// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"time"

	"github.com/bureau-foundation/conveyor/lib/material"
)

// DependencyModification builds the modification a dependency material
// sees when its upstream stage passes.
func DependencyModification(revision material.DependencyRevision, label string, completedAt time.Time) material.Modification {
	return material.Modification{
		Revision:      revision.String(),
		PipelineLabel: label,
		ModifiedTime:  completedAt,
		Comment:       "Stage " + revision.Stage + " of " + revision.Pipeline + " passed",
	}
}

// DependencyPoller serves dependency materials. Their modifications
// are written to the store as stage completions arrive, so polling
// only reads back what the store already has.
type DependencyPoller struct {
	reader Reader
}

// NewDependencyPoller returns a poller reading from reader.
func NewDependencyPoller(reader Reader) *DependencyPoller {
	return &DependencyPoller{reader: reader}
}

func (p *DependencyPoller) Latest(ctx context.Context, m material.Material) (material.Modifications, error) {
	latest, ok, err := p.reader.LatestModification(ctx, m)
	if err != nil || !ok {
		return nil, err
	}
	return material.Modifications{latest}, nil
}

func (p *DependencyPoller) Since(ctx context.Context, m material.Material, revision string) (material.Modifications, error) {
	return p.reader.ModificationsSince(ctx, m, revision)
}

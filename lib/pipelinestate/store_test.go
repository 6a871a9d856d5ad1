// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestate_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func stores(t *testing.T, fn func(t *testing.T, store pipelinestate.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, pipelinestate.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := pipelinestate.OpenSQLiteStore(filepath.Join(t.TempDir(), "state.db"), nil)
		if err != nil {
			t.Fatalf("OpenSQLiteStore: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

var app = material.Material{Kind: material.Git, Name: "app", URL: "https://example.com/app.git"}

func causeAt(ids ...int64) *buildcause.BuildCause {
	var mods material.Modifications
	for _, id := range ids {
		mods = append(mods, material.Modification{ID: id, Revision: fmt.Sprintf("r%d", id), ModifiedTime: epoch})
	}
	revisions := buildcause.MaterialRevisions{buildcause.NewMaterialRevision(app, true, mods...)}
	return buildcause.NewAutomatic(buildcause.TriggerAuto, revisions, []material.Material{app}, epoch)
}

func TestReplaceCauseVersioning(t *testing.T) {
	stores(t, func(t *testing.T, store pipelinestate.Store) {
		ctx := context.Background()

		cause, version, err := store.LastCause(ctx, "web")
		if err != nil || cause != nil || version != 0 {
			t.Fatalf("LastCause on empty store = (%v, %d, %v), want (nil, 0, nil)", cause, version, err)
		}

		first := causeAt(2, 1)
		version, err = store.ReplaceCause(ctx, "web", 0, first)
		if err != nil {
			t.Fatalf("ReplaceCause: %v", err)
		}
		if version != 1 {
			t.Errorf("version = %d, want 1", version)
		}

		// A writer that read version 0 lost the race.
		if _, err := store.ReplaceCause(ctx, "web", 0, causeAt(3)); !errors.Is(err, pipelinestate.ErrVersionConflict) {
			t.Fatalf("stale ReplaceCause = %v, want ErrVersionConflict", err)
		}

		stored, version, err := store.LastCause(ctx, "web")
		if err != nil {
			t.Fatalf("LastCause: %v", err)
		}
		if version != 1 || !stored.Equal(first) {
			t.Errorf("LastCause = (%v, %d), want the first cause at version 1", stored, version)
		}
		if stored.ID != first.ID || stored.Trigger != buildcause.TriggerAuto {
			t.Errorf("provenance not kept: %+v", stored)
		}

		if version, err = store.ReplaceCause(ctx, "web", 1, causeAt(3)); err != nil || version != 2 {
			t.Errorf("ReplaceCause at current version = (%d, %v), want (2, nil)", version, err)
		}
	})
}

func TestCreateInstance(t *testing.T) {
	stores(t, func(t *testing.T, store pipelinestate.Store) {
		ctx := context.Background()
		label := func(counter int64) string { return fmt.Sprintf("1.%d", counter) }

		for index, cause := range []*buildcause.BuildCause{causeAt(5, 4), causeAt(2)} {
			instance, err := store.CreateInstance(ctx, pipelinestate.InstanceRequest{
				ID:        fmt.Sprintf("id-%d", index),
				Pipeline:  "web",
				Cause:     cause,
				Label:     label,
				CreatedAt: epoch,
			})
			if err != nil {
				t.Fatalf("CreateInstance: %v", err)
			}
			if want := int64(index + 1); instance.Counter != want {
				t.Errorf("Counter = %d, want %d", instance.Counter, want)
			}
			if want := fmt.Sprintf("1.%d", index+1); instance.Label != want {
				t.Errorf("Label = %q, want %q", instance.Label, want)
			}
		}

		latest, err := store.LatestInstance(ctx, "web")
		if err != nil {
			t.Fatalf("LatestInstance: %v", err)
		}
		if latest.Counter != 2 || latest.ID != "id-1" || latest.Cause.Revisions[0].Revision() != "r2" {
			t.Errorf("LatestInstance = %+v", latest)
		}

		// The built ID only moves forward: the second run built an
		// older modification.
		built, err := store.BuiltModificationIDs(ctx, "web")
		if err != nil {
			t.Fatalf("BuiltModificationIDs: %v", err)
		}
		if got := built[app.Fingerprint()]; got != 5 {
			t.Errorf("built ID = %d, want 5", got)
		}

		instances, err := store.Instances(ctx, "web", 0)
		if err != nil {
			t.Fatalf("Instances: %v", err)
		}
		if len(instances) != 2 || instances[0].Counter != 2 {
			t.Errorf("Instances = %v, want two, newest first", instances)
		}

		if _, err := store.LatestInstance(ctx, "other"); !errors.Is(err, pipelinestate.ErrNotFound) {
			t.Errorf("LatestInstance(other) = %v, want ErrNotFound", err)
		}
	})
}

func TestPauses(t *testing.T) {
	stores(t, func(t *testing.T, store pipelinestate.Store) {
		ctx := context.Background()

		if _, err := store.PauseState(ctx, "web"); !errors.Is(err, pipelinestate.ErrNotFound) {
			t.Fatalf("PauseState before pause = %v, want ErrNotFound", err)
		}
		if err := store.Pause(ctx, pipelinestate.Pause{Pipeline: "web", By: "alice", Reason: "release freeze", At: epoch}); err != nil {
			t.Fatalf("Pause: %v", err)
		}
		if err := store.Pause(ctx, pipelinestate.Pause{Pipeline: "api", By: "bob", At: epoch}); err != nil {
			t.Fatalf("Pause: %v", err)
		}

		pause, err := store.PauseState(ctx, "web")
		if err != nil {
			t.Fatalf("PauseState: %v", err)
		}
		if pause.By != "alice" || pause.Reason != "release freeze" || !pause.At.Equal(epoch) {
			t.Errorf("PauseState = %+v", pause)
		}

		pauses, err := store.Pauses(ctx)
		if err != nil {
			t.Fatalf("Pauses: %v", err)
		}
		if len(pauses) != 2 || pauses[0].Pipeline != "api" {
			t.Errorf("Pauses = %v, want api then web", pauses)
		}

		existed, err := store.Unpause(ctx, "web")
		if err != nil || !existed {
			t.Errorf("Unpause = (%v, %v), want (true, nil)", existed, err)
		}
		existed, err = store.Unpause(ctx, "web")
		if err != nil || existed {
			t.Errorf("second Unpause = (%v, %v), want (false, nil)", existed, err)
		}
	})
}

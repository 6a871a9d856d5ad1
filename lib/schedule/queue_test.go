// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/schedule"
)

func testCause(revision string) *buildcause.BuildCause {
	app := gitRepo("app")
	return buildcause.NewAutomatic(buildcause.TriggerAuto, buildcause.MaterialRevisions{
		buildcause.NewMaterialRevision(app, true, material.Modification{ID: 1, Revision: revision, ModifiedTime: epoch}),
	}, []material.Material{app}, epoch)
}

func TestQueueOnePerPipeline(t *testing.T) {
	queue := schedule.NewQueue(clock.Fake(epoch))
	if err := queue.Enqueue("web", testCause("a1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queue.Enqueue("web", testCause("a2")); !errors.Is(err, schedule.ErrAlreadyQueued) {
		t.Fatalf("second Enqueue = %v, want ErrAlreadyQueued", err)
	}
	if err := queue.Enqueue("api", testCause("a2")); err != nil {
		t.Fatalf("Enqueue api: %v", err)
	}

	pending := queue.Pending()
	if len(pending) != 2 || pending[0].Pipeline != "web" || pending[1].Pipeline != "api" {
		t.Fatalf("pending = %+v, want web then api", pending)
	}
	if !pending[0].EnqueuedAt.Equal(epoch) {
		t.Errorf("EnqueuedAt = %v, want %v", pending[0].EnqueuedAt, epoch)
	}
}

func TestQueueHoldsCopies(t *testing.T) {
	queue := schedule.NewQueue(clock.Fake(epoch))
	cause := testCause("a1")
	if err := queue.Enqueue("web", cause); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	cause.Revisions[0].Modifications[0].Revision = "mutated"
	cause.Approver = "mallory"

	queued := queue.Pending()[0].Cause
	if queued.Revisions[0].Revision() != "a1" || queued.Approver != buildcause.ApproverChanges {
		t.Errorf("queued cause changed with the caller's copy: %+v", queued)
	}
}

func TestQueueNext(t *testing.T) {
	queue := schedule.NewQueue(clock.Fake(epoch))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan schedule.Entry)
	go func() {
		entry, err := queue.Next(ctx)
		if err != nil {
			t.Errorf("Next: %v", err)
		}
		received <- entry
	}()

	if err := queue.Enqueue("web", testCause("a1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	entry := <-received
	if entry.Pipeline != "web" || !entry.Taken {
		t.Fatalf("entry = %+v, want taken web", entry)
	}

	// A taken entry stays listed and blocks new causes until removed.
	if !queue.Contains("web") {
		t.Error("taken entry no longer listed")
	}
	if err := queue.Enqueue("web", testCause("a2")); !errors.Is(err, schedule.ErrAlreadyQueued) {
		t.Errorf("Enqueue while taken = %v, want ErrAlreadyQueued", err)
	}
	if !queue.Remove("web") {
		t.Error("Remove reported no entry")
	}
	if queue.Remove("web") {
		t.Error("second Remove reported an entry")
	}

	short, shortCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer shortCancel()
	if _, err := queue.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next on empty queue = %v, want DeadlineExceeded", err)
	}
}

func TestTriggerMonitor(t *testing.T) {
	monitor := schedule.NewTriggerMonitor()
	if !monitor.MarkTriggered("web") {
		t.Fatal("first claim refused")
	}
	if monitor.MarkTriggered("web") {
		t.Fatal("second claim granted")
	}
	monitor.MarkTriggered("api")
	if got := monitor.Triggered(); len(got) != 2 || got[0] != "api" || got[1] != "web" {
		t.Errorf("Triggered() = %v, want [api web]", got)
	}
	monitor.Clear("web")
	if monitor.IsTriggered("web") {
		t.Error("cleared pipeline still claimed")
	}
	if !monitor.MarkTriggered("web") {
		t.Error("claim refused after Clear")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
)

func TestReportAndClear(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	registry := NewRegistry(clk, nil)

	if registry.HasErrors() {
		t.Fatal("new registry has errors")
	}

	registry.ReportWarning(MaterialUpdateKey("abc"), "git fetch failed", "exit status 128")
	if registry.HasErrors() {
		t.Error("warning counted as error")
	}

	registry.ReportError(KeyArtifactsDiskFull, "disk full", "")
	if !registry.HasErrors() {
		t.Fatal("HasErrors() = false after ReportError")
	}

	states := registry.States()
	if len(states) != 2 {
		t.Fatalf("len(States()) = %d, want 2", len(states))
	}
	if states[0].Key != KeyArtifactsDiskFull || states[1].Level != LevelWarning {
		t.Errorf("States() order = %v, want error first", states)
	}
	if !states[0].ReportedAt.Equal(clk.Now()) {
		t.Errorf("ReportedAt = %v, want %v", states[0].ReportedAt, clk.Now())
	}

	registry.Clear(KeyArtifactsDiskFull)
	registry.Clear("never-reported")
	if registry.HasErrors() {
		t.Error("HasErrors() = true after Clear")
	}
	if _, ok := registry.Get(KeyArtifactsDiskFull); ok {
		t.Error("cleared key still present")
	}
}

func TestReportReplacesLevel(t *testing.T) {
	registry := NewRegistry(clock.Real(), nil)
	registry.ReportError(KeyInvalidConfig, "bad", "")
	registry.ReportWarning(KeyInvalidConfig, "better", "")

	state, ok := registry.Get(KeyInvalidConfig)
	if !ok || state.Level != LevelWarning || state.Message != "better" {
		t.Fatalf("Get() = %+v, %v, want replaced warning", state, ok)
	}
	if registry.HasErrors() {
		t.Error("replaced error still counted")
	}
}

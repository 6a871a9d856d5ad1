// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package diskspace

import (
	"errors"
	"testing"
)

func TestCheckReadsFilesystem(t *testing.T) {
	status, err := NewMonitor(t.TempDir(), 1).Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.Free == 0 {
		t.Error("Free = 0 for a test temp directory")
	}
	if status.Low() {
		t.Errorf("Low() with a one byte minimum: %v", status)
	}
}

func TestLow(t *testing.T) {
	tests := []struct {
		free, minimum uint64
		low           bool
	}{
		{free: 10 << 30, minimum: 2 << 30, low: false},
		{free: 1 << 30, minimum: 2 << 30, low: true},
		{free: 0, minimum: 0, low: false},
	}
	for _, test := range tests {
		status, err := Fixed("/artifacts", test.free, test.minimum).Check()
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if status.Low() != test.low {
			t.Errorf("Low() for %d/%d = %v, want %v", test.free, test.minimum, status.Low(), test.low)
		}
	}
}

func TestString(t *testing.T) {
	status := Status{Path: "/artifacts", Free: 1 << 30, Minimum: 2 << 30}
	if got, want := status.String(), "1.0 GiB free on /artifacts (minimum 2.0 GiB)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCheckError(t *testing.T) {
	monitor := &Monitor{path: "/gone", statfs: func(string) (uint64, error) { return 0, errors.New("no such file") }}
	if _, err := monitor.Check(); err == nil {
		t.Fatal("Check succeeded with a failing statfs")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskspace reports free space on the filesystem holding a
// directory and compares it with a configured minimum.
package diskspace

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Status is the result of one check.
type Status struct {
	Path    string
	Free    uint64
	Minimum uint64
}

// Low reports whether free space is below the minimum.
func (s Status) Low() bool {
	return s.Free < s.Minimum
}

func (s Status) String() string {
	return fmt.Sprintf("%s free on %s (minimum %s)",
		humanize.IBytes(s.Free), s.Path, humanize.IBytes(s.Minimum))
}

// Monitor checks one directory against a minimum.
type Monitor struct {
	path    string
	minimum uint64

	// statfs is replaced in tests.
	statfs func(path string) (uint64, error)
}

// NewMonitor returns a Monitor for path. A zero minimum never reports
// low space.
func NewMonitor(path string, minimum uint64) *Monitor {
	return &Monitor{path: path, minimum: minimum, statfs: available}
}

// Check reads the current free space. Every call queries the
// filesystem.
func (m *Monitor) Check() (Status, error) {
	free, err := m.statfs(m.path)
	if err != nil {
		return Status{}, fmt.Errorf("diskspace: %s: %w", m.path, err)
	}
	return Status{Path: m.path, Free: free, Minimum: m.minimum}, nil
}

// available returns the bytes available to unprivileged users.
func available(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Fixed returns a Monitor that always reports free bytes. Used when
// the server runs without an artifacts directory and in tests.
func Fixed(path string, free, minimum uint64) *Monitor {
	return &Monitor{
		path:    path,
		minimum: minimum,
		statfs:  func(string) (uint64, error) { return free, nil },
	}
}

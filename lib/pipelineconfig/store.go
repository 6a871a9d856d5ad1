// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelineconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/conveyor/lib/clock"
)

// Store serves the current Snapshot of a definitions directory.
type Store struct {
	directory string
	clock     clock.Clock
	logger    *slog.Logger

	// reloadMu serializes Reload and Replace.
	reloadMu sync.Mutex
	version  uint64
	current  atomic.Pointer[Snapshot]
}

// NewStore returns a Store for directory holding an empty snapshot.
// Call Reload to load the definitions. An empty directory is allowed
// for stores that are populated with Replace.
func NewStore(directory string, clk clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store := &Store{directory: directory, clock: clk, logger: logger}
	store.current.Store(NewSnapshot(nil))
	return store
}

// Current returns the snapshot in service. Never nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload reads every definition file in the directory and publishes a
// new snapshot. When any file fails to load or validate, the published
// snapshot keeps the previous pipelines and carries the issues, and
// Reload returns them joined as an error.
func (s *Store) Reload() (*Snapshot, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return s.Current(), fmt.Errorf("pipelineconfig: reading %s: %w", s.directory, err)
	}

	var (
		pipelines []*Pipeline
		issues    []string
	)
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(Extensions, filepath.Ext(entry.Name())) {
			continue
		}
		pipeline, err := ReadFile(filepath.Join(s.directory, entry.Name()))
		if err != nil {
			issues = append(issues, err.Error())
			continue
		}
		pipelines = append(pipelines, pipeline)
	}

	candidate := NewSnapshot(pipelines)
	issues = append(issues, candidate.issues...)

	var published *Snapshot
	if len(issues) > 0 {
		published = s.Current().withIssues(issues)
	} else {
		published = candidate
	}
	s.publishLocked(published)

	if len(issues) > 0 {
		s.logger.Warn("pipeline configuration invalid, keeping previous pipelines",
			"directory", s.directory,
			"issues", len(issues),
			"version", published.version,
		)
		errs := make([]error, len(issues))
		for index, issue := range issues {
			errs[index] = errors.New(issue)
		}
		return published, fmt.Errorf("pipelineconfig: %w", errors.Join(errs...))
	}

	s.logger.Info("pipeline configuration loaded",
		"directory", s.directory,
		"pipelines", len(published.pipelines),
		"version", published.version,
	)
	return published, nil
}

// Replace publishes a snapshot built from pipelines, bypassing the
// directory. Issues, if any, are carried by the returned snapshot.
func (s *Store) Replace(pipelines []*Pipeline) *Snapshot {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	snapshot := NewSnapshot(pipelines)
	s.publishLocked(snapshot)
	return snapshot
}

func (s *Store) publishLocked(snapshot *Snapshot) {
	s.version++
	snapshot.version = s.version
	snapshot.loadedAt = s.clock.Now()
	s.current.Store(snapshot)
}

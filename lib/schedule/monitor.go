// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"slices"
	"sync"
)

// TriggerMonitor tracks which pipelines are claimed by an evaluation
// or a queued cause.
type TriggerMonitor struct {
	mu        sync.Mutex
	triggered map[string]struct{}
}

// NewTriggerMonitor returns a monitor with nothing claimed.
func NewTriggerMonitor() *TriggerMonitor {
	return &TriggerMonitor{triggered: make(map[string]struct{})}
}

// MarkTriggered claims pipeline. It reports false, changing nothing,
// when the pipeline is already claimed.
func (m *TriggerMonitor) MarkTriggered(pipeline string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, claimed := m.triggered[pipeline]; claimed {
		return false
	}
	m.triggered[pipeline] = struct{}{}
	return true
}

// Clear releases pipeline.
func (m *TriggerMonitor) Clear(pipeline string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggered, pipeline)
}

// IsTriggered reports whether pipeline is claimed.
func (m *TriggerMonitor) IsTriggered(pipeline string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, claimed := m.triggered[pipeline]
	return claimed
}

// Triggered returns the claimed pipelines, sorted.
func (m *TriggerMonitor) Triggered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	pipelines := make([]string, 0, len(m.triggered))
	for pipeline := range m.triggered {
		pipelines = append(pipelines, pipeline)
	}
	slices.Sort(pipelines)
	return pipelines
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package health is the server-wide registry of conditions that
// operators need to see independently of any one request, such as a
// full artifacts disk or an invalid configuration.
package health

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
)

// Level is the severity of a State.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Keys used by the scheduler.
const (
	KeyArtifactsDiskFull = "artifacts-disk-full"
	KeyInvalidConfig     = "invalid-config"
)

// MaterialUpdateKey is the key of the warning recorded when a
// material's history refresh fails.
func MaterialUpdateKey(fingerprint string) string {
	return "material-update-" + fingerprint
}

// State is one reported condition.
type State struct {
	Key        string    `json:"key" cbor:"key"`
	Level      Level     `json:"level" cbor:"level"`
	Message    string    `json:"message" cbor:"message"`
	Detail     string    `json:"detail,omitempty" cbor:"detail,omitempty"`
	ReportedAt time.Time `json:"reported_at" cbor:"reported_at"`
}

// Registry holds the current State for each key. Reporting a key
// replaces its previous state. Safe for concurrent use.
type Registry struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]State
}

// NewRegistry returns an empty registry. A nil logger discards.
func NewRegistry(clk clock.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{clock: clk, logger: logger, states: make(map[string]State)}
}

// ReportError records an error-level condition.
func (r *Registry) ReportError(key, message, detail string) {
	r.report(key, LevelError, message, detail)
}

// ReportWarning records a warning-level condition.
func (r *Registry) ReportWarning(key, message, detail string) {
	r.report(key, LevelWarning, message, detail)
}

func (r *Registry) report(key string, level Level, message, detail string) {
	r.mu.Lock()
	previous, existed := r.states[key]
	r.states[key] = State{
		Key:        key,
		Level:      level,
		Message:    message,
		Detail:     detail,
		ReportedAt: r.clock.Now(),
	}
	r.mu.Unlock()

	if !existed || previous.Level != level || previous.Message != message {
		r.logger.Warn("server health condition reported",
			"key", key,
			"level", string(level),
			"message", message,
			"detail", detail,
		)
	}
}

// Clear removes the condition for key. Clearing an absent key is a
// no-op.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	_, existed := r.states[key]
	delete(r.states, key)
	r.mu.Unlock()

	if existed {
		r.logger.Info("server health condition cleared", "key", key)
	}
}

// Get returns the state for key.
func (r *Registry) Get(key string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[key]
	return state, ok
}

// States returns all conditions, errors before warnings, then by key.
func (r *Registry) States() []State {
	r.mu.Lock()
	states := slices.Collect(maps.Values(r.states))
	r.mu.Unlock()

	slices.SortFunc(states, func(a, b State) int {
		if a.Level != b.Level {
			if a.Level == LevelError {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Key, b.Key)
	})
	return states
}

// HasErrors reports whether any error-level condition is present.
func (r *Registry) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.states {
		if state.Level == LevelError {
			return true
		}
	}
	return false
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/secret"
)

// Poller asks a material's source for modifications. Both methods
// return newest first.
type Poller interface {
	// Latest returns the newest modification only. Used when the
	// history of the material is still empty.
	Latest(ctx context.Context, m material.Material) (material.Modifications, error)

	// Since returns the modifications after revision. When the source
	// no longer knows revision, the poller returns the latest
	// modification.
	Since(ctx context.Context, m material.Material, revision string) (material.Modifications, error)
}

// ErrNoPoller is returned for a material kind with no registered
// poller.
var ErrNoPoller = errors.New("no poller registered for material type")

// PasswordDecrypter recovers material passwords stored encrypted in
// pipeline definitions. The caller closes the returned buffer.
type PasswordDecrypter interface {
	Decrypt(ciphertext string) (*secret.Buffer, error)
}

// Registry maps material kinds to pollers.
type Registry struct {
	mu      sync.RWMutex
	pollers map[material.Kind]Poller
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pollers: make(map[material.Kind]Poller)}
}

// Register installs poller for kind, replacing any previous one.
func (r *Registry) Register(kind material.Kind, poller Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollers[kind] = poller
}

// Lookup returns the poller for kind, or an error wrapping ErrNoPoller.
func (r *Registry) Lookup(kind material.Kind) (Poller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	poller, ok := r.pollers[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoPoller, kind)
	}
	return poller, nil
}

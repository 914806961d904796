// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps game names and aliases to modules. Modules are
// registered during startup; Freeze makes the registry immutable, after
// which lookups are safe from any goroutine without locking overhead
// beyond a read lock.
type Registry struct {
	mu      sync.RWMutex
	frozen  bool
	byName  map[string]*Module
	byAlias map[string]string // lowercased alias -> canonical name
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Module),
		byAlias: make(map[string]string),
	}
}

// Register adds a module. It fails on a frozen registry, a duplicate
// canonical name, an alias collision, or a module with no players.
func (r *Registry) Register(module *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registering game %q: registry is frozen", module.Name)
	}
	if module.RequiredPlayers <= 0 {
		return fmt.Errorf("registering game %q: required players must be positive, got %d", module.Name, module.RequiredPlayers)
	}
	if module.NewManager == nil {
		return fmt.Errorf("registering game %q: nil manager factory", module.Name)
	}
	if _, exists := r.byName[module.Name]; exists {
		return fmt.Errorf("registering game %q: name already registered", module.Name)
	}

	aliases := append([]string{module.Name}, module.Aliases...)
	for _, alias := range aliases {
		key := strings.ToLower(alias)
		if existing, taken := r.byAlias[key]; taken {
			return fmt.Errorf("registering game %q: alias %q already resolves to %q", module.Name, alias, existing)
		}
	}

	r.byName[module.Name] = module
	for _, alias := range aliases {
		r.byAlias[strings.ToLower(alias)] = module.Name
	}
	return nil
}

// Freeze makes the registry immutable. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// CanonicalName resolves an alias to the canonical game name. An
// unknown alias is an error value, never a panic.
func (r *Registry) CanonicalName(alias string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byAlias[strings.ToLower(alias)]
	if !ok {
		return "", fmt.Errorf("unknown game %q", alias)
	}
	return name, nil
}

// Module resolves an alias to its module.
func (r *Registry) Module(alias string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byAlias[strings.ToLower(alias)]
	if !ok {
		return nil, fmt.Errorf("unknown game %q", alias)
	}
	return r.byName[name], nil
}

// Names returns the canonical names of all registered games, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/tombee/switchyard/pkg/errors"
)

var (
	// ErrProviderAlreadyRegistered indicates an adapter with this id already exists.
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrInvalidProvider indicates the adapter implementation is invalid.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrFactoryNotFound indicates no factory is registered for the provider type.
	ErrFactoryNotFound = errors.New("provider factory not found")
)

// Factory builds an adapter from resolved settings.
type Factory func(s Settings) (Adapter, error)

// Registry maps provider ids to adapters. Factories are registered per
// provider type first; Activate then instantiates a configured provider id.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// RegisterFactory registers a factory for a provider type. Registering the
// same type twice replaces the previous factory.
func (r *Registry) RegisterFactory(providerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = f
}

// HasFactory reports whether a factory exists for providerType.
func (r *Registry) HasFactory(providerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[providerType]
	return ok
}

// ListFactories returns the registered provider types, sorted.
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.factories)
}

// Activate instantiates s.ID from the factory for s.Type. Activating an id
// that is already active is a no-op.
func (r *Registry) Activate(s Settings) error {
	if s.ID == "" {
		return fmt.Errorf("%w: provider id cannot be empty", ErrInvalidProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[s.ID]; ok {
		return nil
	}
	f, ok := r.factories[s.factoryType()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFactoryNotFound, s.factoryType())
	}

	a, err := f(s)
	if err != nil {
		return fmt.Errorf("failed to activate provider %s: %w", s.ID, err)
	}
	if s.Retry.MaxRetries > 0 {
		a = NewRetryingAdapter(a, s.Retry)
	}
	r.adapters[s.ID] = a
	return nil
}

// Register adds an already-built adapter under its Name.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return ErrInvalidProvider
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("%w: provider name cannot be empty", ErrInvalidProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter for id or a *errors.NotFoundError.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, &pkgerrors.NotFoundError{Resource: "provider", ID: id}
	}
	return a, nil
}

// Has reports whether id is active.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// List returns the active provider ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.adapters)
}

// Unregister removes id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[id]; !ok {
		return &pkgerrors.NotFoundError{Resource: "provider", ID: id}
	}
	delete(r.adapters, id)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Registry maps record kinds to their payload schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds or replaces the schema for kind.
func (r *Registry) Register(kind string, definition []byte, strictMode bool) (*Schema, error) {
	if kind == "" {
		return nil, errors.New("kind is required")
	}
	if len(definition) == 0 {
		return nil, errors.New("definition is required")
	}

	s := &Schema{
		Kind:        kind,
		Definition:  definition,
		Fingerprint: ComputeFingerprint(definition),
		StrictMode:  strictMode,
	}

	r.mu.Lock()
	r.schemas[kind] = s
	r.mu.Unlock()
	return s, nil
}

// RegisterFile reads a .proto file and registers it for kind.
func (r *Registry) RegisterFile(kind, path string, strictMode bool) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	s, err := r.Register(kind, data, strictMode)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

// Get returns the schema for kind, or ErrNotFound.
func (r *Registry) Get(_ context.Context, kind string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, kind)
	}
	return s, nil
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

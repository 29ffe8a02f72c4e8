package schema

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Compiler compiles schema definitions into runtime representations.
type Compiler interface {
	// Compile parses the definition; malformed definitions return an error.
	Compile(ctx context.Context, schema *Schema) (*CompiledSchema, error)
}

// DataValidator checks record values against a compiled schema.
type DataValidator interface {
	ValidateData(ctx context.Context, compiled *CompiledSchema, data map[string]interface{}) error
}

// Validator validates record values against schemas, caching compiled forms.
// Compiler and DataValidator are injected to keep format packages free of
// import cycles.
type Validator struct {
	compiler  Compiler
	validator DataValidator

	mu           sync.RWMutex
	compiled     map[string]*CompiledSchema
	compileGroup singleflight.Group // Dedupe concurrent compilation
}

// NewValidator creates a new schema validator.
func NewValidator(compiler Compiler, validator DataValidator) *Validator {
	return &Validator{
		compiler:  compiler,
		validator: validator,
		compiled:  make(map[string]*CompiledSchema),
	}
}

// Precompile compiles schema ahead of first use so bad definitions fail at startup.
func (v *Validator) Precompile(ctx context.Context, schema *Schema) error {
	_, err := v.getOrCompile(ctx, schema)
	return err
}

// ValidateData validates record values against the schema.
func (v *Validator) ValidateData(ctx context.Context, schema *Schema, data map[string]interface{}) error {
	compiled, err := v.getOrCompile(ctx, schema)
	if err != nil {
		return err
	}
	return v.validator.ValidateData(ctx, compiled, data)
}

// getOrCompile retrieves or compiles a schema.
func (v *Validator) getOrCompile(ctx context.Context, schema *Schema) (*CompiledSchema, error) {
	key := schema.cacheKey()

	v.mu.RLock()
	if compiled, exists := v.compiled[key]; exists {
		v.mu.RUnlock()
		return compiled, nil
	}
	v.mu.RUnlock()

	result, err, _ := v.compileGroup.Do(key, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		v.mu.RLock()
		if compiled, exists := v.compiled[key]; exists {
			v.mu.RUnlock()
			return compiled, nil
		}
		v.mu.RUnlock()

		compiled, err := v.compiler.Compile(ctx, schema)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", schema.Kind, err)
		}

		v.mu.Lock()
		v.compiled[key] = compiled
		v.mu.Unlock()

		return compiled, nil
	})

	if err != nil {
		return nil, err
	}

	return result.(*CompiledSchema), nil
}

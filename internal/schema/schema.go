package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Schema is the payload schema of one record kind, written as a .proto file
// defining a single top-level message whose fields name the record values.
type Schema struct {
	// Kind is the record kind this schema validates (e.g., "milk.session").
	Kind string `json:"kind"`

	// Source is the file the definition was read from, if any.
	Source string `json:"source,omitempty"`

	// Definition is the raw .proto content.
	Definition []byte `json:"-"`

	// Fingerprint is SHA-256 hash of Definition; part of the compile cache key.
	Fingerprint string `json:"fingerprint"`

	// StrictMode rejects records with value names the message does not declare.
	StrictMode bool `json:"strict_mode"`
}

// ComputeFingerprint calculates SHA-256 hash of the definition.
func ComputeFingerprint(definition []byte) string {
	hash := sha256.Sum256(definition)
	return hex.EncodeToString(hash[:])
}

// cacheKey identifies one compiled form of the schema.
func (s *Schema) cacheKey() string {
	return fmt.Sprintf("%s:%s:%t", s.Kind, s.Fingerprint, s.StrictMode)
}

// CompiledSchema is a schema ready for validation.
type CompiledSchema struct {
	Kind       string
	StrictMode bool
	Descriptor protoreflect.MessageDescriptor
}

package protobuf

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dairytrack/dairytrack/internal/schema"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Validator validates record values against protobuf schemas.
type Validator struct{}

// NewValidator creates a new protobuf validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateData validates record values against the compiled protobuf schema.
func (v *Validator) ValidateData(_ context.Context, compiled *schema.CompiledSchema, data map[string]interface{}) error {
	if compiled.Descriptor == nil {
		return fmt.Errorf("schema for %s has no message descriptor", compiled.Kind)
	}
	return v.validateMessage(compiled, compiled.Descriptor, data)
}

// validateMessage validates a JSON object against a message descriptor.
func (v *Validator) validateMessage(s *schema.CompiledSchema, md protoreflect.MessageDescriptor, data map[string]interface{}) error {
	fields := md.Fields()

	// Both JSON name and proto name are accepted.
	knownFields := make(map[string]protoreflect.FieldDescriptor)
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		knownFields[fd.JSONName()] = fd
		knownFields[string(fd.Name())] = fd
	}

	if s.StrictMode {
		var unknownFields []string
		for key := range data {
			if _, ok := knownFields[key]; !ok {
				unknownFields = append(unknownFields, key)
			}
		}
		if len(unknownFields) > 0 {
			sort.Strings(unknownFields)
			return schema.NewUnknownFieldsError(s.Kind, unknownFields)
		}
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var errs []*schema.ValidationError
	for _, key := range keys {
		fd, ok := knownFields[key]
		if !ok {
			continue
		}
		if ve := v.validateField(s, fd, key, data[key]); ve != nil {
			errs = append(errs, ve)
		}
	}

	if len(errs) > 0 {
		return &schema.MultiValidationError{Errors: errs}
	}
	return nil
}

// validateField validates a single value against its descriptor.
func (v *Validator) validateField(s *schema.CompiledSchema, fd protoreflect.FieldDescriptor, name string, value interface{}) *schema.ValidationError {
	if value == nil {
		return nil // proto3 fields are optional
	}

	if fd.IsList() {
		arr, ok := value.([]interface{})
		if !ok {
			return schema.NewTypeMismatchError(s.Kind, name, "array", jsonTypeName(value))
		}
		for i, elem := range arr {
			if ve := v.validateScalar(s, fd, fmt.Sprintf("%s[%d]", name, i), elem); ve != nil {
				return ve
			}
		}
		return nil
	}

	if fd.IsMap() {
		m, ok := value.(map[string]interface{})
		if !ok {
			return schema.NewTypeMismatchError(s.Kind, name, "object", jsonTypeName(value))
		}
		for k, mv := range m {
			if ve := v.validateScalar(s, fd.MapValue(), fmt.Sprintf("%s[%q]", name, k), mv); ve != nil {
				return ve
			}
		}
		return nil
	}

	return v.validateScalar(s, fd, name, value)
}

// validateScalar validates a scalar value.
func (v *Validator) validateScalar(s *schema.CompiledSchema, fd protoreflect.FieldDescriptor, name string, value interface{}) *schema.ValidationError {
	if value == nil {
		return nil
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		if _, ok := value.(bool); !ok {
			return schema.NewTypeMismatchError(s.Kind, name, "bool", jsonTypeName(value))
		}

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		d, ok := numeric(value, false)
		if !ok || !d.IsInteger() {
			return schema.NewTypeMismatchError(s.Kind, name, "integer", jsonTypeName(value))
		}
		if isUnsigned(fd.Kind()) && d.IsNegative() {
			return schema.NewTypeMismatchError(s.Kind, name, "unsigned integer", "negative number")
		}

	case protoreflect.FloatKind, protoreflect.DoubleKind:
		// Numeric strings are accepted, matching the proto3 JSON mapping.
		if _, ok := numeric(value, true); !ok {
			return schema.NewTypeMismatchError(s.Kind, name, "number", jsonTypeName(value))
		}

	case protoreflect.StringKind, protoreflect.BytesKind:
		if _, ok := value.(string); !ok {
			return schema.NewTypeMismatchError(s.Kind, name, "string", jsonTypeName(value))
		}

	case protoreflect.EnumKind:
		switch value.(type) {
		case string, float64, int, json.Number:
		default:
			return schema.NewTypeMismatchError(s.Kind, name, "string or integer (enum)", jsonTypeName(value))
		}

	case protoreflect.MessageKind:
		m, ok := value.(map[string]interface{})
		if !ok {
			return schema.NewTypeMismatchError(s.Kind, name, "object", jsonTypeName(value))
		}
		if err := v.validateMessage(s, fd.Message(), m); err != nil {
			return &schema.ValidationError{Schema: s.Kind, Field: name, Message: err.Error()}
		}
	}

	return nil
}

func isUnsigned(k protoreflect.Kind) bool {
	switch k {
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return true
	}
	return false
}

// numeric converts a decoded JSON value to a decimal.
func numeric(value interface{}, allowString bool) (decimal.Decimal, bool) {
	switch n := value.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		if !allowString {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

// jsonTypeName returns a human-readable type name for JSON values.
func jsonTypeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

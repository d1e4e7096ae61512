package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/coreemu/coreemu/internal/coreerr"
)

// errorsIs is a thin alias so the toStatus switch in rpc.go reads as a
// chain of classification checks rather than repeated package qualifiers.
func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}

// reply wraps a map of Go values into a response Struct. A nil map yields
// an empty (but non-nil) Struct for operations with no return payload.
func reply(values map[string]interface{}) (*structpb.Struct, error) {
	if values == nil {
		values = map[string]interface{}{}
	}
	st, err := structpb.NewStruct(normalize(values))
	if err != nil {
		return nil, coreerr.NewValidation(fmt.Sprintf("rpc: building response: %v", err))
	}
	return st, nil
}

// normalize widens integer types structpb.NewStruct doesn't accept natively
// (it requires float64 for numbers) so callers can pass uint32 IDs directly.
func normalize(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch n := v.(type) {
		case uint32:
			out[k] = float64(n)
		case uint64:
			out[k] = float64(n)
		case int:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}

func emptyStruct() *structpb.Struct {
	st, _ := reply(nil)
	return st
}

func field(in *structpb.Struct, name string) (*structpb.Value, bool) {
	if in == nil {
		return nil, false
	}
	v, ok := in.Fields[name]
	return v, ok
}

// fieldUint32 reads a required numeric field, returning a Validation error
// naming the missing field rather than panicking on a nil Value.
func fieldUint32(in *structpb.Struct, name string) (uint32, error) {
	v, ok := field(in, name)
	if !ok {
		return 0, coreerr.NewValidation(fmt.Sprintf("rpc: missing field %q", name))
	}
	return uint32(v.GetNumberValue()), nil
}

// fieldString reads a required string field.
func fieldString(in *structpb.Struct, name string) (string, error) {
	v, ok := field(in, name)
	if !ok {
		return "", coreerr.NewValidation(fmt.Sprintf("rpc: missing field %q", name))
	}
	return v.GetStringValue(), nil
}

// fieldBool reads a required boolean field.
func fieldBool(in *structpb.Struct, name string) (bool, error) {
	v, ok := field(in, name)
	if !ok {
		return false, coreerr.NewValidation(fmt.Sprintf("rpc: missing field %q", name))
	}
	return v.GetBoolValue(), nil
}

// mustString and its siblings below read optional fields, defaulting to the
// zero value rather than erroring — used for link options where every
// field is independently optional (§4.3 "any subset of fields may be set").
func mustString(in *structpb.Struct, name string) string {
	v, ok := field(in, name)
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func mustFloat(in *structpb.Struct, name string) float64 {
	v, ok := field(in, name)
	if !ok {
		return 0
	}
	return v.GetNumberValue()
}

func mustBool(in *structpb.Struct, name string) bool {
	v, ok := field(in, name)
	if !ok {
		return false
	}
	return v.GetBoolValue()
}

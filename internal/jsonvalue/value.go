// Package jsonvalue provides a dynamic JSON value wrapper used at the
// boundaries where the platform accepts operator-supplied documents:
// workflow parameters, run context/output, event payloads, and metadata
// blobs. Internally everything else is explicit schema structs; this type
// exists only where the shape of the data is genuinely caller-defined.
package jsonvalue

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Value wraps an arbitrary JSON document. The zero Value marshals as `null`.
type Value struct {
	raw json.RawMessage
}

// Null is the canonical null Value.
var Null = Value{raw: json.RawMessage("null")}

// FromAny marshals v into a Value.
func FromAny(v any) (Value, error) {
	if v == nil {
		return Null, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return FromRaw(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("jsonvalue: marshal: %w", err)
	}
	return Value{raw: data}, nil
}

// FromRaw wraps already-encoded JSON bytes, validating them.
func FromRaw(raw []byte) (Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Null, nil
	}
	if !json.Valid(raw) {
		return Value{}, fmt.Errorf("jsonvalue: invalid JSON document")
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return Value{raw: cp}, nil
}

// MustFromAny panics on marshal error; for use with compile-time-constant literals in tests.
func MustFromAny(v any) Value {
	val, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return val
}

// IsNull reports whether the value is JSON null or empty.
func (v Value) IsNull() bool {
	return len(v.raw) == 0 || string(bytes.TrimSpace(v.raw)) == "null"
}

// Raw returns the underlying JSON bytes (never nil).
func (v Value) Raw() json.RawMessage {
	if len(v.raw) == 0 {
		return json.RawMessage("null")
	}
	return v.raw
}

// String renders the value compactly.
func (v Value) String() string {
	return string(v.Raw())
}

// Decode unmarshals the value into target.
func (v Value) Decode(target any) error {
	return json.Unmarshal(v.Raw(), target)
}

// Get resolves a dotted gjson path (e.g. "metadata.owner" or
// "items.0.id") against the document. ok is false when the path does not
// resolve to any value.
func (v Value) Get(path string) (gjson.Result, bool) {
	res := gjson.GetBytes(v.Raw(), path)
	return res, res.Exists()
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	val, err := FromRaw(data)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Value implements driver.Valuer so jsonvalue.Value can be written directly
// through database/sql as a jsonb column.
func (v Value) Value() (driver.Value, error) {
	return string(v.Raw()), nil
}

// Scan implements sql.Scanner.
func (v *Value) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*v = Null
		return nil
	case []byte:
		val, err := FromRaw(t)
		if err != nil {
			return err
		}
		*v = val
		return nil
	case string:
		val, err := FromRaw([]byte(t))
		if err != nil {
			return err
		}
		*v = val
		return nil
	default:
		return fmt.Errorf("jsonvalue: unsupported scan source %T", src)
	}
}

// Merge deep-merges patch on top of v, returning the merged document. Both
// values must decode to JSON objects; used by replacePartitionsInManifest's
// `summary.lifecycle` / `metadata.lifecycle` deep-merge contract.
func Merge(base, patch Value) (Value, error) {
	if patch.IsNull() {
		return base, nil
	}
	if base.IsNull() {
		return patch, nil
	}

	var baseMap, patchMap map[string]any
	if err := base.Decode(&baseMap); err != nil {
		return Value{}, fmt.Errorf("jsonvalue: merge base is not an object: %w", err)
	}
	if err := patch.Decode(&patchMap); err != nil {
		return Value{}, fmt.Errorf("jsonvalue: merge patch is not an object: %w", err)
	}
	merged := mergeMaps(baseMap, patchMap)
	return FromAny(merged)
}

func mergeMaps(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		if bv, ok := out[k]; ok {
			if bvMap, ok1 := bv.(map[string]any); ok1 {
				if pvMap, ok2 := pv.(map[string]any); ok2 {
					out[k] = mergeMaps(bvMap, pvMap)
					continue
				}
			}
		}
		out[k] = pv
	}
	return out
}

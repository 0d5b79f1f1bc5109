package gguf

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// MetadataKV is one key/value pair from the metadata section.
type MetadataKV struct {
	Key       string
	ValueType MetadataValueType
	Value     any
}

// ArrayValue is the decoded payload of a MetadataKV whose ValueType is
// ValueTypeArray.
type ArrayValue struct {
	Type MetadataValueType
	Len  uint64
	Item []any
}

// MetadataKVs is the full ordered metadata list, with by-key lookup.
type MetadataKVs []MetadataKV

// Get returns the KV with the given key, if present.
func (kvs MetadataKVs) Get(key string) (MetadataKV, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv, true
		}
	}
	return MetadataKV{}, false
}

// Index returns the KVs whose keys are among keys, as a map keyed by key,
// for callers that probe many keys; keys not present are left out.
func (kvs MetadataKVs) Index(keys ...string) map[string]MetadataKV {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make(map[string]MetadataKV, len(keys))
	for _, kv := range kvs {
		if _, ok := want[kv.Key]; ok {
			out[kv.Key] = kv
		}
	}
	return out
}

// SortedKeys returns the metadata keys in sorted order, e.g. for
// deterministic diagnostic output.
func (kvs MetadataKVs) SortedKeys() []string {
	keys := make([]string, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.Key
	}
	sort.Strings(keys)
	return keys
}

// ValueNumeric coerces a MetadataKV's scalar value to T, returning the zero
// value if the KV is absent or not numeric-compatible.
func ValueNumeric[T constraints.Integer | constraints.Float](kvs MetadataKVs, key string) T {
	kv, ok := kvs.Get(key)
	if !ok {
		var zero T
		return zero
	}
	return numericAs[T](kv.Value)
}

// ValueNumericOr is ValueNumeric with an explicit default when the key is
// absent.
func ValueNumericOr[T constraints.Integer | constraints.Float](kvs MetadataKVs, key string, def T) T {
	kv, ok := kvs.Get(key)
	if !ok {
		return def
	}
	return numericAs[T](kv.Value)
}

// ValueString returns a string-valued KV, or def if absent/wrong type.
func ValueString(kvs MetadataKVs, key string, def string) string {
	kv, ok := kvs.Get(key)
	if !ok {
		return def
	}
	s, ok := kv.Value.(string)
	if !ok {
		return def
	}
	return s
}

// ValuesArray returns the decoded array items of an array-typed KV, or nil.
func ValuesArray(kvs MetadataKVs, key string) []any {
	kv, ok := kvs.Get(key)
	if !ok {
		return nil
	}
	av, ok := kv.Value.(ArrayValue)
	if !ok {
		return nil
	}
	return av.Item
}

func numericAs[T constraints.Integer | constraints.Float](v any) T {
	var zero T
	switch n := v.(type) {
	case uint8:
		return T(n)
	case int8:
		return T(n)
	case uint16:
		return T(n)
	case int16:
		return T(n)
	case uint32:
		return T(n)
	case int32:
		return T(n)
	case uint64:
		return T(n)
	case int64:
		return T(n)
	case float32:
		return T(n)
	case float64:
		return T(n)
	default:
		return zero
	}
}

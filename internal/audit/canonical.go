// Package audit implements the per-session append-only hash-chained event
// log described in the core design: a metadata genesis record followed by
// wire records, each hash-linked to its predecessor.
package audit

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
)

// CanonicalJSON produces a deterministic JSON encoding of v: object keys are
// sorted lexicographically, arrays keep their order, undefined/function/
// symbol-like values (unsupported by Go's type system) are simply absent,
// non-finite numbers become null, and values are otherwise encoded as
// standard JSON. Canonicalizing the same logical value twice, regardless of
// how its map keys were inserted, always yields the same bytes.
func CanonicalJSON(v interface{}) ([]byte, error) {
	normalized := normalize(v)
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize walks a value produced by encoding/json.Unmarshal (or plain Go
// maps/slices/structs marshaled through the same path) and rewrites it into
// map[string]interface{} / []interface{} / scalars only, so encodeCanonical
// never has to special-case struct reflection.
func normalize(v interface{}) interface{} {
	raw, err := json.Marshal(sanitizeNumbers(v))
	if err != nil {
		return nil
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	return sanitizeNumbers(generic)
}

func sanitizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = sanitizeNumbers(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeNumbers(val)
		}
		return out
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	default:
		return v
	}
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

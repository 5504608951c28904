// Package canonical produces deterministic JSON serializations. Signing and
// hash chaining both depend on re-deriving byte-identical payloads from
// structured data, so object keys are sorted lexicographically at every
// nesting level (RFC 8785 style).
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Marshal serializes v to canonical JSON bytes. v is first round-tripped
// through encoding/json so struct tags and omitted fields behave exactly as
// a plain json.Marshal would, then keys are ordered.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}
	out, err := json.Marshal(sortKeys(decoded))
	if err != nil {
		return nil, fmt.Errorf("marshal canonical form: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 of the canonical serialization of v as a
// lowercase hex string.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the SHA-256 of raw bytes as a lowercase hex string.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// sortKeys recursively orders map keys; arrays keep their order, values
// pass through unchanged.
func sortKeys(value any) any {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := &orderedMap{keys: keys, values: make(map[string]any, len(v))}
		for _, k := range keys {
			ordered.values[k] = sortKeys(v[k])
		}
		return ordered
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return value
	}
}

// orderedMap emits its entries in key order during JSON marshaling.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func (o *orderedMap) MarshalJSON() ([]byte, error) {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		v := o.values[k]
		if v == nil {
			buf.WriteString("null")
			continue
		}
		valBytes, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return []byte(buf.String()), nil
}

// Package audit persists a tamper-evident trail of executed ERP write
// operations: entries are canonicalized, linked into a per-tenant hash
// chain, and stored in Postgres.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON produces a stable byte representation of v: object keys
// sorted lexicographically, no extraneous whitespace, numbers kept verbatim.
// Equal values always canonicalize to equal bytes, so hashes built on the
// output are reproducible.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json unmarshal: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonical json encode: %w", err)
	}
	return buf.Bytes(), nil
}

// writeCanonical serializes the decoded generic tree with sorted object
// keys. After Decode with UseNumber the tree holds only maps, slices,
// strings, json.Number, bools and nil.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case json.Number:
		buf.WriteString(string(val))
		return nil

	default:
		out, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
}

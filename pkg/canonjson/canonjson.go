// Package canonjson encodes values as canonical JSON: object keys are
// sorted lexicographically and no insignificant whitespace is emitted.
// Two semantically equal values therefore always serialize to the same
// bytes, which makes the output suitable for hashing.
package canonjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Encode returns the canonical JSON encoding of v. Maps with non-string
// keys and other values json.Marshal rejects produce an error.
func Encode(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := encode(buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SumObject canonically encodes v and returns the lowercase hex SHA-256
// of the encoding along with the encoded bytes.
func SumObject(v any) (string, []byte, error) {
	b, err := Encode(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

// normalize round-trips v through encoding/json so struct values,
// typed maps and numeric types all collapse to the generic form the
// canonical encoder understands.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonjson: %w", err)
	}
	return out, nil
}

func encode(w io.Writer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = w.Write([]byte("{"))
		for i, k := range keys {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			kb, _ := json.Marshal(k)
			_, _ = w.Write(kb)
			_, _ = w.Write([]byte(":"))
			if err := encode(w, t[k]); err != nil {
				return err
			}
		}
		_, _ = w.Write([]byte("}"))
		return nil
	case []any:
		_, _ = w.Write([]byte("["))
		for i, vv := range t {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			if err := encode(w, vv); err != nil {
				return err
			}
		}
		_, _ = w.Write([]byte("]"))
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, _ = w.Write(b)
		return nil
	}
}

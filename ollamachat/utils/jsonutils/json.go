package jsonutils

import (
	"bytes"
	"encoding/json"
	"io"
)

// Indent serializes v with 2-space indentation. HTML characters are left
// as they are so exported text reads the same as it was typed.
func Indent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeObject reads a JSON object from r. Anything that is not a JSON
// object, including an empty or malformed body, yields an empty map.
func DecodeObject(r io.Reader) map[string]any {
	out := map[string]any{}
	if r == nil {
		return out
	}
	var v map[string]any
	if err := json.NewDecoder(r).Decode(&v); err != nil || v == nil {
		return out
	}
	return v
}

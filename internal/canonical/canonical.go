// Package canonical produces the deterministic serialization that signatures
// are computed over. The output must be byte-identical across every
// implementation of the protocol, so the rules here are deliberately narrow:
// mappings become key-sorted [key, value] pair sequences, timestamps become
// UTC second-precision ISO-8601 strings, and anything with an ambiguous
// textual form is rejected outright.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"vouch/pkg/domerr"
)

// maxExactInt is the largest integer a float64 represents exactly. Floats
// beyond it cannot round-trip and would diverge between implementations.
const maxExactInt = 1 << 53

// Canonicalise rewrites value into its canonical form:
//
//   - strings, integers, booleans and nulls pass through unchanged
//   - fmt.Stringer values (symbolic tags) become their string name
//   - time.Time becomes an RFC 3339 UTC string at second precision
//   - sequences are canonicalised element-wise, order preserved
//   - string-keyed mappings become a sequence of [key, value] pairs sorted
//     ascending by key, so the JSON rendering is array-shaped and immune to
//     map-ordering differences
//
// Anything else fails with CodeCanonicalization.
func Canonicalise(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case json.Number:
		// Decoding with UseNumber lands here with the literal intact.
		// Integral literals pass through verbatim so integers beyond the
		// float64 range keep their exact digits; anything with a fraction or
		// exponent is rejected the same way a float64 would be.
		if !integralNumber(v.String()) {
			return nil, domerr.Newf(domerr.CodeCanonicalization, "non-integral number %s has no canonical form", v)
		}
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v >= maxExactInt {
			return nil, domerr.Newf(domerr.CodeCanonicalization, "integer %d too large for exact representation", v)
		}
		return int64(v), nil
	case float64:
		// JSON decoding without UseNumber lands here. Only integral values
		// have an unambiguous cross-implementation rendering.
		if math.Trunc(v) != v || math.Abs(v) >= maxExactInt {
			return nil, domerr.Newf(domerr.CodeCanonicalization, "non-integral number %v has no canonical form", v)
		}
		return int64(v), nil
	case time.Time:
		return v.UTC().Truncate(time.Second).Format(time.RFC3339), nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			c, err := Canonicalise(elem)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]any, 0, len(keys))
		for _, k := range keys {
			c, err := Canonicalise(v[k])
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, []any{k, c})
		}
		return pairs, nil
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return Canonicalise(m)
	case fmt.Stringer:
		return v.String(), nil
	default:
		return nil, domerr.Newf(domerr.CodeCanonicalization, "unsupported value of type %T", value)
	}
}

// integralNumber reports whether a JSON number literal is a plain integer:
// an optional leading minus followed by digits only.
func integralNumber(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Bytes returns the exact byte sequence to sign or verify: the compact JSON
// rendering of the canonical form.
func Bytes(value any) ([]byte, error) {
	c, err := Canonicalise(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(c); err != nil {
		return nil, domerr.Wrap(domerr.CodeCanonicalization, "encode canonical form", err)
	}
	// Encoder appends a newline that is not part of the signed bytes.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FromJSON decodes a JSON object while rejecting duplicate keys at any
// depth. Go maps cannot carry duplicates, so raw JSON is the only way one
// could reach Canonicalise; rejecting here keeps last-write-wins semantics
// out of the protocol entirely.
func FromJSON(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	value, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, domerr.New(domerr.CodeDecode, "trailing data after JSON value")
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, domerr.New(domerr.CodeDecode, "top-level JSON value must be an object")
	}
	return obj, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeDecode, "malformed JSON", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, domerr.Newf(domerr.CodeDecode, "unexpected delimiter %q", t.String())
		}
	default:
		return tok, nil
	}
}

func decodeObject(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, domerr.Wrap(domerr.CodeDecode, "malformed JSON object", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, domerr.New(domerr.CodeDecode, "object key is not a string")
		}
		if _, exists := obj[key]; exists {
			return nil, domerr.Newf(domerr.CodeCanonicalization, "duplicate mapping key %q", key)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj[key] = value
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, domerr.Wrap(domerr.CodeDecode, "unterminated JSON object", err)
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := make([]any, 0)
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, value)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, domerr.Wrap(domerr.CodeDecode, "unterminated JSON array", err)
	}
	return arr, nil
}

package crawler

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Fields is a loosely-typed JSON object as returned by the results API.
type Fields map[string]json.RawMessage

// Object decodes raw into Fields. Anything that is not a JSON object yields an
// empty, non-nil map.
func Object(raw json.RawMessage) Fields {
	fields := Fields{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fields
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Fields{}
	}
	return fields
}

// First returns the first value among keys that is present and truthy
// (not null, not "", not 0, not false).
func (f Fields) First(keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok || !truthy(raw) {
			continue
		}
		return raw, true
	}
	return nil, false
}

// Text returns the string form of key, or fallback when missing or null.
func (f Fields) Text(key, fallback string) string {
	if s, ok := Text(f[key]); ok {
		return s
	}
	return fallback
}

// Int returns the integer value of key, or 0.
func (f Fields) Int(key string) int64 {
	n, _ := Int(f[key])
	return n
}

// Float returns the float value of key, or 0.
func (f Fields) Float(key string) float64 {
	n, _ := Float(f[key])
	return n
}

// Text renders a JSON scalar as text. Numbers keep their literal form.
func Text(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	default:
		return string(trimmed), true
	}
}

// Int parses a JSON number or numeric string. Fractions are truncated.
func Int(raw json.RawMessage) (int64, bool) {
	f, ok := Float(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	s, _ := Text(raw)
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return n, true
	}
	return int64(f), true
}

// Float parses a JSON number or numeric string.
func Float(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	switch trimmed[0] {
	case '{', '[', 't', 'f', 'n':
		return 0, false
	}
	s, ok := Text(trimmed)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// IsNumber reports whether raw is a bare JSON number.
func IsNumber(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	c := trimmed[0]
	if c != '-' && (c < '0' || c > '9') {
		return false
	}
	_, err := strconv.ParseFloat(string(trimmed), 64)
	return err == nil
}

func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "false", "0", "0.0", "[]", "{}":
		return false
	}
	return true
}

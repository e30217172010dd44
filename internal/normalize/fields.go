// Package normalize turns raw upstream records into canonical deputy and ballot types.
//
// The upstream open-data API and the persistent store do not agree on a shape:
// the same logical field can live under several names, values can be a single
// object or a list, and scalar values are sometimes wrapped in {"#text": ...}.
// Every function here is pure and total. Malformed input produces an empty
// result, never an error.
package normalize

import (
	"strings"

	"github.com/spf13/cast"
)

// lookup walks a dotted path through nested objects. A list met on the way is
// replaced by its first object element.
func lookup(raw map[string]any, path string) any {
	var cur any = raw
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// firstString returns the first non-empty scalar found under aliases.
func firstString(raw map[string]any, aliases ...string) string {
	if raw == nil {
		return ""
	}
	for _, alias := range aliases {
		if s := scalarString(lookup(raw, alias)); s != "" {
			return s
		}
	}
	return ""
}

// scalarString coerces a JSON value to a trimmed string. Objects only yield a
// value through the "#text" wrapper; lists yield their first non-empty scalar.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if text, ok := t["#text"]; ok {
			return scalarString(text)
		}
		return ""
	case []any:
		for _, item := range t {
			if s := scalarString(item); s != "" {
				return s
			}
		}
		return ""
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				return s
			}
		}
		return ""
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
}

// asMap returns v as an object. A list is reduced to its first object.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m, true
			}
		}
	case []map[string]any:
		if len(t) > 0 {
			return t[0], true
		}
	}
	return nil, false
}

// asList coerces a value that may be a single object or a list into a list.
func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{t}
	}
}

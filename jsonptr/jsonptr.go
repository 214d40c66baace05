// Package jsonptr evaluates RFC 6901 JSON Pointers against decoded JSON
// values (the nil/bool/float64/string/[]any/map[string]any shapes produced
// by encoding/json with UseNumber off).
package jsonptr

import (
	"strconv"
	"strings"
)

// Eval navigates doc by pointer and reports whether the target exists.
// An empty pointer ("") selects the whole document. Navigation into a
// missing object member or out-of-range array index reports ok=false
// rather than an error: a non-matching row is skipped, not failed.
func Eval(doc any, pointer string) (value any, ok bool) {
	if pointer == "" {
		return doc, true
	}
	if pointer[0] != '/' {
		return nil, false
	}
	tokens := strings.Split(pointer[1:], "/")
	cur := doc
	for _, raw := range tokens {
		tok := unescape(raw)
		switch v := cur.(type) {
		case map[string]any:
			next, exists := v[tok]
			if !exists {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Valid reports whether pointer is syntactically well-formed: "" or a
// string beginning with "/". It does not check that any path exists.
func Valid(pointer string) bool {
	return pointer == "" || strings.HasPrefix(pointer, "/")
}

func unescape(tok string) string {
	if !strings.Contains(tok, "~") {
		return tok
	}
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

// StringTargets extracts the set of strings an index should emit for a
// pointer's target: a bare string yields one entry, an array of strings
// yields one per element (duplicates collapsed, first occurrence wins).
// Anything else yields none, including an array with any non-string
// element: that target is not a string array, so the whole row is
// skipped.
func StringTargets(target any) []string {
	switch v := target.(type) {
	case string:
		return []string{v}
	case []any:
		seen := make(map[string]struct{}, len(v))
		out := make([]string, 0, len(v))
		for _, el := range v {
			s, ok := el.(string)
			if !ok {
				return nil
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

package store

import "github.com/driftkv/driftkv/jsonptr"

// IndexDef is a secondary index definition.
type IndexDef struct {
	Name      string `json:"name"`
	KeyPrefix string `json:"keyPrefix"`
	Pointer   string `json:"pointer"`
}

// entriesForRow returns the index entries a row (key, value) contributes
// to def: rows outside KeyPrefix contribute nothing; a missing,
// non-string, or non-string-array pointer target is silently skipped;
// array targets collapse duplicates, first wins.
func entriesForRow(def IndexDef, key string, value any) []indexEntry {
	if !hasPrefix(key, def.KeyPrefix) {
		return nil
	}
	target, ok := jsonptr.Eval(value, def.Pointer)
	if !ok {
		return nil
	}
	secondaries := jsonptr.StringTargets(target)
	if len(secondaries) == 0 {
		return nil
	}
	out := make([]indexEntry, 0, len(secondaries))
	for _, s := range secondaries {
		out = append(out, indexEntry{Index: def.Name, Secondary: s, Primary: key})
	}
	return out
}

func hasPrefix(key, prefix string) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(key) < len(prefix) {
		return false
	}
	return key[:len(prefix)] == prefix
}

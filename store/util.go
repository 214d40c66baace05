package store

import "github.com/google/go-cmp/cmp"

// deepEqualJSON compares two decoded JSON values structurally. Object key
// order never matters because both sides are Go maps; cmp.Equal handles
// the nil vs. empty-map with EquateEmpty-free assumption fine for JSON's
// own Go representation (maps, slices, and scalars).
func deepEqualJSON(a, b any) bool {
	return cmp.Equal(a, b)
}

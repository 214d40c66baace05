package subscribe

import "github.com/driftkv/driftkv/store"

// rangeProbe remembers a Scan's shape so an insert that newly matches its
// prefix (and so was never individually read before) still invalidates
// the subscription, not just changes to rows it actually yielded.
type rangeProbe struct {
	indexName string
	prefix    string
}

// readSet is everything one query evaluation read: individual keys and
// index entries, plus the scan ranges it probed.
type readSet struct {
	rows     map[string]struct{}
	indexes  map[string]struct{}
	ranges   []rangeProbe
	wildcard bool
}

func newReadSet() *readSet {
	return &readSet{rows: make(map[string]struct{}), indexes: make(map[string]struct{})}
}

func (r *readSet) touchRow(key string)         { r.rows[key] = struct{}{} }
func (r *readSet) touchIndex(composite string) { r.indexes[composite] = struct{}{} }

// intersects reports whether d touches anything this read set observed:
// an exact key/index hit, or a changed row/index falling inside a probed
// scan's prefix.
func (r *readSet) intersects(d *store.Diff) bool {
	if r.wildcard {
		return true
	}
	for k := range r.rows {
		if _, ok := d.Rows[k]; ok {
			return true
		}
	}
	for k := range r.indexes {
		if _, ok := d.Indexes[k]; ok {
			return true
		}
	}
	for _, p := range r.ranges {
		if p.indexName == "" {
			for k := range d.Rows {
				if hasPrefix(k, p.prefix) {
					return true
				}
			}
		} else {
			// Index diff keys are index-namespaced
			// (index\x00secondary\x00primary); the probe matches only
			// entries of its own index, prefixed the way the scan
			// filters its composite key.
			for k := range d.Indexes {
				if hasPrefix(k, p.indexName+"\x00"+p.prefix) {
					return true
				}
			}
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(s) < len(prefix) {
		return false
	}
	return s[:len(prefix)] == prefix
}

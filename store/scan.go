package store

import (
	"sort"

	"github.com/driftkv/driftkv/errs"
)

// StartKey positions a scan at or after (or strictly after, if Exclusive)
// a given key.
type StartKey struct {
	Key       string
	Exclusive bool
}

// ScanOptions controls a Scan.
type ScanOptions struct {
	Prefix    string
	Limit     uint32 // 0 means unlimited
	Start     *StartKey
	IndexName string // empty: scan primary rows
}

// Row is one (key, value) pair yielded by a primary scan, or one
// (secondary, primary) pair projected through value=primary for index
// scans so callers can treat both uniformly by key.
type Row struct {
	Key   string // canonical sort key: "key" for primary, "secondary\x00primary" for index
	Value any
}

// Iterator yields rows in ascending canonical-key order.
type Iterator struct {
	rows []Row
	pos  int
}

func (it *Iterator) Next() bool {
	it.pos++
	return it.pos <= len(it.rows)
}

func (it *Iterator) Row() Row { return it.rows[it.pos-1] }

// Close is a no-op: the iterator is a materialized slice, not a live
// cursor, but callers that break/return/panic mid-iteration should still
// call it.
func (it *Iterator) Close() {}

func (tx *ReadTx) Scan(opts ScanOptions) (*Iterator, error) {
	return scanMaterialized(tx.mat, opts)
}

func (tx *WriteTx) Scan(opts ScanOptions) (*Iterator, error) {
	return scanMaterialized(tx.merged(), opts)
}

// merged overlays this transaction's uncommitted writes onto its base
// snapshot so in-flight scans see them.
func (tx *WriteTx) merged() *materialized {
	rows := cloneAny(tx.base.Rows)
	for k, op := range tx.rowDelta {
		if op.Delete {
			delete(rows, k)
		} else {
			rows[k] = op.Value
		}
	}
	idx := cloneIndex(tx.base.Indexes)
	for k, op := range tx.indexDelta {
		if op.Delete {
			delete(idx, k)
		} else {
			idx[k] = op.Entry
		}
	}
	return &materialized{
		Cookie:         tx.base.Cookie,
		LastMutationID: tx.base.LastMutationID,
		MaxMutationID:  tx.base.MaxMutationID,
		Rows:           rows,
		Indexes:        idx,
		IndexDefs:      tx.base.IndexDefs,
	}
}

func scanMaterialized(mat *materialized, opts ScanOptions) (*Iterator, error) {
	if opts.IndexName != "" {
		if _, ok := mat.IndexDefs[opts.IndexName]; !ok {
			return nil, errs.ErrUnknownIndex
		}
		return scanIndex(mat, opts), nil
	}
	return scanRows(mat, opts), nil
}

func scanRows(mat *materialized, opts ScanOptions) *Iterator {
	keys := sortedKeys(mat.Rows)
	startIdx := 0
	if opts.Start != nil {
		startIdx = sort.SearchStrings(keys, opts.Start.Key)
		if opts.Start.Exclusive && startIdx < len(keys) && keys[startIdx] == opts.Start.Key {
			startIdx++
		}
	}
	out := make([]Row, 0, len(keys))
	for _, k := range keys[startIdx:] {
		if opts.Prefix != "" && !hasPrefix(k, opts.Prefix) {
			continue
		}
		out = append(out, Row{Key: k, Value: mat.Rows[k]})
		if opts.Limit > 0 && uint32(len(out)) >= opts.Limit {
			break
		}
	}
	return &Iterator{rows: out}
}

// indexStart decodes a scan start for an index scan, which may be a
// bare secondary string or a [secondary, primary?] pair.
func indexStart(start *StartKey) (secondary, primary string) {
	if start == nil {
		return "", ""
	}
	// Callers encode a pair as "secondary\x00primary"; a bare secondary
	// has no separator.
	for i := 0; i < len(start.Key); i++ {
		if start.Key[i] == 0 {
			return start.Key[:i], start.Key[i+1:]
		}
	}
	return start.Key, ""
}

func scanIndex(mat *materialized, opts ScanOptions) *Iterator {
	entries := make([]indexEntry, 0, len(mat.Indexes))
	for _, e := range mat.Indexes {
		if e.Index != opts.IndexName {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Secondary != entries[j].Secondary {
			return entries[i].Secondary < entries[j].Secondary
		}
		return entries[i].Primary < entries[j].Primary
	})

	startIdx := 0
	if opts.Start != nil {
		sec, prim := indexStart(opts.Start)
		startIdx = sort.Search(len(entries), func(i int) bool {
			if entries[i].Secondary != sec {
				return entries[i].Secondary > sec
			}
			return entries[i].Primary >= prim
		})
		if opts.Start.Exclusive && startIdx < len(entries) &&
			entries[startIdx].Secondary == sec && entries[startIdx].Primary == prim {
			startIdx++
		}
	}

	out := make([]Row, 0, len(entries))
	for _, e := range entries[startIdx:] {
		// Prefix filters the canonical key form, which for index scans
		// is the composite [secondary, primary]; a plain string prefix
		// therefore matches against the secondary.
		if opts.Prefix != "" && !hasPrefix(e.compositeKey(), opts.Prefix) {
			continue
		}
		out = append(out, Row{Key: e.compositeKey(), Value: e.Primary})
		if opts.Limit > 0 && uint32(len(out)) >= opts.Limit {
			break
		}
	}
	return &Iterator{rows: out}
}

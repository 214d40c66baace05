package subscribe

import "github.com/driftkv/driftkv/store"

// TrackedReadTx wraps a store.ReadTx, recording every key and index entry
// a query body reads so the owning subscription knows when it must be
// re-evaluated.
type TrackedReadTx struct {
	tx *store.ReadTx
	rs *readSet
}

func (t *TrackedReadTx) Get(key string) (any, bool) {
	t.rs.touchRow(key)
	return t.tx.Get(key)
}

func (t *TrackedReadTx) Has(key string) bool {
	t.rs.touchRow(key)
	return t.tx.Has(key)
}

// IsEmpty reads the whole keyspace shape; there is no single key to
// record, so the subscription is marked wildcard and re-evaluates on any
// diff.
func (t *TrackedReadTx) IsEmpty() bool {
	t.rs.wildcard = true
	return t.tx.IsEmpty()
}

// Scan runs opts and records it as a range probe plus every row actually
// yielded, so both new matching inserts and changes to yielded rows
// trigger re-evaluation.
func (t *TrackedReadTx) Scan(opts store.ScanOptions) (*TrackedIterator, error) {
	it, err := t.tx.Scan(opts)
	if err != nil {
		return nil, err
	}
	t.rs.ranges = append(t.rs.ranges, rangeProbe{indexName: opts.IndexName, prefix: opts.Prefix})
	return &TrackedIterator{it: it, rs: t.rs, indexName: opts.IndexName}, nil
}

// TrackedIterator records each row it yields into the owning
// subscription's read set as it is consumed.
type TrackedIterator struct {
	it        *store.Iterator
	rs        *readSet
	indexName string
}

func (it *TrackedIterator) Next() bool { return it.it.Next() }

func (it *TrackedIterator) Row() store.Row {
	r := it.it.Row()
	if it.indexName == "" {
		it.rs.touchRow(r.Key)
	} else {
		// Index diffs are keyed by the index-namespaced entry key, so
		// the read set records the same shape.
		it.rs.touchIndex(it.indexName + "\x00" + r.Key)
	}
	return r
}

func (it *TrackedIterator) Close() { it.it.Close() }

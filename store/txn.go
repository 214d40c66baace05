package store

import (
	"fmt"

	"github.com/driftkv/driftkv/errs"
)

// ReadTx is a snapshot of the store as of the moment it was opened.
type ReadTx struct {
	mat    *materialized
	closed bool
}

func newReadTx(mat *materialized) *ReadTx {
	return &ReadTx{mat: mat}
}

// ReadTx opens a snapshot of the current main head. Read transactions
// taken while a write is in flight queue behind it and observe the
// post-write state: taking the snapshot briefly acquires the write
// lock, but the returned view itself is lock-free.
func (s *Store) ReadTx() (*ReadTx, error) {
	if s.isClosed() {
		return nil, errs.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return newReadTx(s.headMaterialized()), nil
}

func (tx *ReadTx) Get(key string) (any, bool) {
	v, ok := tx.mat.Rows[key]
	return v, ok
}

func (tx *ReadTx) Has(key string) bool {
	_, ok := tx.mat.Rows[key]
	return ok
}

func (tx *ReadTx) IsEmpty() bool {
	return len(tx.mat.Rows) == 0
}

// Close marks the transaction closed. Get, Has, IsEmpty and Scan do not
// check the mark: after Close they keep reading the same snapshot.
// ReadTx holds no resources beyond the materialized view, so Close is
// only a resource-discipline hook: callers that break out of a Scan
// should still Close.
func (tx *ReadTx) Close() { tx.closed = true }

// WriteTx is a named mutator invocation's write transaction.
type WriteTx struct {
	store      *Store
	mainline   bool // true: serialized against s.head via s.mu; false: branch build
	parent     string
	base       *materialized
	name       string
	args       map[string]any
	mutationID uint64

	rowDelta   map[string]RowOp
	indexDelta map[string]IndexOp
	errored    bool

	done bool // committed or aborted
}

// Fail marks the transaction so its eventual commit records Errored,
// used by the sync engine when a replayed mutator returns an error: the
// mutation's ordering must still be preserved in the commit graph.
func (tx *WriteTx) Fail() { tx.errored = true }

// WriteTx opens a write transaction against the current main head,
// blocking until any prior writer has committed or aborted; the lock on
// head is held for the transaction's whole lifetime.
func (s *Store) WriteTx(name string) (*WriteTx, error) {
	if s.isClosed() {
		return nil, errs.ErrStoreClosed
	}
	s.mu.Lock()
	base := s.headMaterialized()
	return &WriteTx{
		store:      s,
		mainline:   true,
		parent:     s.head,
		base:       base,
		name:       name,
		mutationID: base.MaxMutationID + 1,
		rowDelta:   make(map[string]RowOp),
		indexDelta: make(map[string]IndexOp),
	}, nil
}

// WriteTxAt opens a write transaction against an arbitrary commit, used
// by the sync engine to replay pending mutations onto a sync branch
// without touching the main head or taking the write lock (the sync
// branch is single-writer by construction: one beginPull at a time).
func (s *Store) WriteTxAt(parentHash, name string, mutationID uint64) (*WriteTx, error) {
	if s.isClosed() {
		return nil, errs.ErrStoreClosed
	}
	s.wmu.Lock()
	base := s.g.materialize(parentHash)
	s.wmu.Unlock()
	return &WriteTx{
		store:      s,
		mainline:   false,
		parent:     parentHash,
		base:       base,
		name:       name,
		mutationID: mutationID,
		rowDelta:   make(map[string]RowOp),
		indexDelta: make(map[string]IndexOp),
	}, nil
}

func (tx *WriteTx) currentValue(key string) (any, bool) {
	if op, ok := tx.rowDelta[key]; ok {
		if op.Delete {
			return nil, false
		}
		return op.Value, true
	}
	v, ok := tx.base.Rows[key]
	return v, ok
}

func (tx *WriteTx) Get(key string) (any, bool) { return tx.currentValue(key) }

func (tx *WriteTx) Has(key string) bool {
	_, ok := tx.currentValue(key)
	return ok
}

func (tx *WriteTx) IsEmpty() bool {
	for _, op := range tx.rowDelta {
		if !op.Delete {
			return false
		}
	}
	for k := range tx.base.Rows {
		if op, overridden := tx.rowDelta[k]; overridden && op.Delete {
			continue
		}
		return false
	}
	return true
}

// Put writes key=value, maintaining every live secondary index.
func (tx *WriteTx) Put(key string, value any) error {
	if tx.done {
		return errs.ErrTransactionClosed
	}
	old, hadOld := tx.currentValue(key)
	tx.reindex(key, old, hadOld, value, true)
	tx.rowDelta[key] = RowOp{Value: value}
	return nil
}

// Del removes key, reporting whether it existed.
func (tx *WriteTx) Del(key string) (bool, error) {
	if tx.done {
		return false, errs.ErrTransactionClosed
	}
	old, hadOld := tx.currentValue(key)
	if !hadOld {
		return false, nil
	}
	tx.reindex(key, old, hadOld, nil, false)
	tx.rowDelta[key] = RowOp{Delete: true}
	return true, nil
}

// reindex updates tx.indexDelta for key's change from (old,hadOld) to
// (newValue,hasNew) across every index live at tx.base.
func (tx *WriteTx) reindex(key string, old any, hadOld bool, newValue any, hasNew bool) {
	for _, def := range tx.base.IndexDefs {
		var before, after []indexEntry
		if hadOld {
			before = entriesForRow(def, key, old)
		}
		if hasNew {
			after = entriesForRow(def, key, newValue)
		}
		beforeSet := make(map[string]indexEntry, len(before))
		for _, e := range before {
			beforeSet[e.storageKey()] = e
		}
		afterSet := make(map[string]indexEntry, len(after))
		for _, e := range after {
			afterSet[e.storageKey()] = e
		}
		for sk, e := range beforeSet {
			if _, keep := afterSet[sk]; !keep {
				tx.indexDelta[sk] = IndexOp{Delete: true, Entry: e}
			}
		}
		for sk, e := range afterSet {
			if _, already := beforeSet[sk]; !already {
				tx.indexDelta[sk] = IndexOp{Entry: e}
			}
		}
	}
}

// Commit finalizes the transaction, producing a new Local commit. On the
// mainline it becomes the new main head and fires listeners; on a branch
// it is simply persisted and its hash returned for the caller to chain
// further replay commits or an eventual SwapHead onto.
func (tx *WriteTx) Commit() (hash string, err error) {
	if tx.done {
		return "", errs.ErrTransactionClosed
	}
	tx.done = true

	c := &Commit{
		Kind:         KindLocal,
		Parent:       tx.parent,
		MutationID:   tx.mutationID,
		MutationName: tx.name,
		MutationArgs: tx.args,
		RowDelta:     tx.rowDelta,
		IndexDelta:   tx.indexDelta,
		Errored:      tx.errored,
	}
	tx.store.wmu.Lock()
	tx.store.g.add(c)
	err = tx.store.persistNewCommits([]*Commit{c}, headFor(tx, c.Hash))
	if err == nil {
		if tx.mainline {
			tx.store.head = c.Hash
			tx.store.gc()
		} else {
			tx.store.syncHead = c.Hash
		}
	}
	tx.store.wmu.Unlock()
	// Release the write lock before notifying: listeners re-run queries
	// that open read transactions, which queue on the same lock.
	if tx.mainline {
		tx.store.mu.Unlock()
	}
	if err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	if tx.mainline {
		tx.store.notify(diffFromLocal(c))
	}
	return c.Hash, nil
}

// headFor picks which backend head-pointer value to persist: mainline
// commits advance the durable head, branch commits leave it untouched
// (persistNewCommits always writes *a* head value, so branch commits
// re-write the existing one as a no-op).
func headFor(tx *WriteTx, newHash string) string {
	if tx.mainline {
		return newHash
	}
	return tx.store.head
}

// Abort discards the transaction without committing. Any index/row work
// computed so far is simply dropped.
func (tx *WriteTx) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.mainline {
		tx.store.mu.Unlock()
	}
}

// SetArgs attaches the mutator's arguments for persistence/replay. Called
// once before Commit by the facade invoking the mutator.
func (tx *WriteTx) SetArgs(args map[string]any) { tx.args = args }

// MutationID reports the ID this transaction will commit with.
func (tx *WriteTx) MutationID() uint64 { return tx.mutationID }

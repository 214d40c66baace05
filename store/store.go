// Package store implements the transactional, content-addressed
// commit-graph store: point/prefix/range reads, writes, secondary
// indexes, and scan iterators, layered over an abstract backend.Store.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/driftkv/driftkv/backend"
)

const (
	keyHeadPointer  = "\x00head"
	commitKeyPrefix = "\x00c/"
)

// Listener is called after every commit and after every pull-end swap
// with the set of rows/index entries that changed.
type Listener func(diff *Diff)

// Store is a single named transactional store.
type Store struct {
	backend backend.Store

	mu       fifoLock   // serializes writers FIFO; held for a write txn's lifetime
	wmu      sync.Mutex // guards head/graph bookkeeping below
	closed   bool
	g        *graph
	head     string // main head hash
	syncHead string // sync branch head while a pull is in flight, else ""

	listeners []Listener
}

// Open attaches to (or initializes) a store against backend b.
func Open(b backend.Store) (*Store, error) {
	s := &Store{backend: b, g: newGraph()}

	raw, err := b.Get(keyHeadPointer)
	if err == backend.ErrNotFound {
		root := s.g.add(&Commit{
			Kind:        KindSnapshot,
			Cookie:      json.RawMessage("null"),
			BaseRows:    map[string]any{},
			BaseIndexes: map[string]indexEntry{},
			IndexDefs:   map[string]IndexDef{},
		})
		if err := s.persistNewCommits([]*Commit{root}, root.Hash); err != nil {
			return nil, err
		}
		s.head = root.Hash
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.head = string(raw)
	if err := s.loadChain(s.head); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the store. New operations fail with errs.ErrStoreClosed.
// Transactions opened before Close are not invalidated by it: a ReadTx
// keeps reading its snapshot, and a WriteTx still accepts Put and Del,
// but its Commit fails with the closed backend's error.
func (s *Store) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *Store) isClosed() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.closed
}

// AddListener registers a commit/pull-end observer. Not safe to call
// concurrently with Close.
func (s *Store) AddListener(l Listener) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(diff *Diff) {
	if diff == nil || diff.empty() {
		return
	}
	s.wmu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.wmu.Unlock()
	for _, l := range ls {
		l(diff)
	}
}

// loadChain walks backwards from hash loading any commit not already in
// the in-memory graph, stopping once a cached or root commit is reached.
func (s *Store) loadChain(hash string) error {
	for hash != "" {
		if _, ok := s.g.get(hash); ok {
			return nil
		}
		raw, err := s.backend.Get(commitKeyPrefix + hash)
		if err != nil {
			return fmt.Errorf("store: loading commit %s: %w", hash, err)
		}
		var c Commit
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("store: decoding commit %s: %w", hash, err)
		}
		c.Hash = hash
		s.g.commits[hash] = &c
		hash = c.Parent
	}
	return nil
}

// persistNewCommits writes new commit nodes and the head pointer value
// newHead in one atomic batch. It does not garbage-collect; callers that
// move the main head run gc afterwards.
func (s *Store) persistNewCommits(commits []*Commit, newHead string) error {
	b := s.backend.NewBatch()
	for _, c := range commits {
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		b.Put(commitKeyPrefix+c.Hash, raw)
	}
	b.Put(keyHeadPointer, []byte(newHead))
	return b.Commit()
}

func (s *Store) gc() {
	roots := []string{s.head}
	if s.syncHead != "" {
		roots = append(roots, s.syncHead)
	}
	removed := s.g.collectGarbage(roots...)
	if len(removed) == 0 {
		return
	}
	b := s.backend.NewBatch()
	for _, hash := range removed {
		b.Delete(commitKeyPrefix + hash)
	}
	// Best effort: a failed reclaim only leaves orphaned commit blobs
	// behind. loadChain never walks to an unreachable hash, so
	// correctness does not depend on the delete.
	_ = b.Commit()
}

// headMaterialized returns the flattened state at the current main head.
func (s *Store) headMaterialized() *materialized {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.g.materialize(s.head)
}

// ClientIDKey is the backend key the owning facade persists a client
// identity under, kept here so the store and the sync facade agree on
// storage layout without the facade reaching into backend internals.
const ClientIDKey = "\x00clientID"

// Package backend is the abstract byte-addressable storage contract
// driftkv's commit graph is persisted against. Real backends (Memory,
// Bolt) are thin adapters; they carry no knowledge of commits, mutations,
// or indexes.
package backend

import "errors"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("backend: key not found")

// ErrStoreClosed is returned by operations against a closed Store.
var ErrStoreClosed = errors.New("backend: store closed")

// Store is an opened byte-map with atomic batched commit and snapshot
// reads.
type Store interface {
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)

	// Snapshot returns a read-only view of the store as of now. The
	// caller must call Release when done; the view must not change
	// underneath concurrent writers (bbolt and the in-memory backend
	// both provide this naturally).
	Snapshot() Snapshot

	// NewBatch starts a set of writes applied atomically by Commit.
	NewBatch() Batch

	Close() error
}

// Snapshot is a read-only view into a Store at a point in time.
type Snapshot interface {
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	Release()
}

// Batch buffers writes for atomic commit.
type Batch interface {
	Put(key string, value []byte)
	Delete(key string)
	Commit() error
}

// Opener opens or creates a named Store.
type Opener interface {
	Open(name string) (Store, error)
	// Delete destroys a durable store's on-disk state. Memory backends
	// may no-op.
	Delete(name string) error
}

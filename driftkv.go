// Package driftkv is a client-side replicated key-value store with
// offline-first synchronization against a remote server.
// Applications register named mutators, invoke them against a locally
// versioned store, and let the connection loop push pending mutations
// and pull authoritative patches in the background.
package driftkv

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/driftkv/driftkv/backend"
	"github.com/driftkv/driftkv/connloop"
	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/mutation"
	"github.com/driftkv/driftkv/store"
	"github.com/driftkv/driftkv/subscribe"
	"github.com/driftkv/driftkv/syncengine"
	"github.com/driftkv/driftkv/transport"
)

// clientIDKey is the backend key the client UUID is persisted under. It
// lives outside the store package's commit/head keyspace (see
// store.ClientIDKey) so opening the commit graph and minting a client
// identity never collide.
const clientIDKey = store.ClientIDKey

// Store is a single named, synchronizing client-side replica. Despite the
// name it is the whole public facade, not just the transactional store
// (that lives internally as *store.Store).
type Store struct {
	opts     Options
	log      *slog.Logger
	backend  backend.Store
	inner    *store.Store
	mutators *mutation.Registry
	engine   *syncengine.Engine
	subs     *subscribe.Engine
	clientID string

	pushLoop *connloop.Loop
	pullLoop *connloop.Loop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sync syncNotifier
}

// Open attaches to (or creates) a named store per opts.
func Open(name string, opts ...Option) (*Store, error) {
	if name == "" {
		return nil, errs.New(errs.KindProtocolError, "driftkv: Name is required")
	}
	o := newOptions(name, opts)

	b, err := openBackend(o)
	if err != nil {
		return nil, err
	}

	id, err := loadOrMintClientID(b)
	if err != nil {
		b.Close()
		return nil, err
	}

	inner, err := store.Open(b)
	if err != nil {
		b.Close()
		return nil, err
	}

	s := &Store{
		opts:     o,
		log:      o.logger(),
		backend:  b,
		inner:    inner,
		mutators: mutation.NewRegistry(),
		clientID: id,
	}
	s.sync.cb = o.OnSyncEvent
	s.subs = subscribe.New(inner)

	var puller transport.Puller
	var pusher transport.Pusher
	if o.PullURL != "" {
		puller = transport.NewHTTPPuller(o.PullURL)
	}
	if o.PushURL != "" {
		pusher = transport.NewHTTPPusher(o.PushURL)
	}
	s.engine = &syncengine.Engine{
		Store:         inner,
		Mutators:      s.mutators,
		Pusher:        pusher,
		Puller:        puller,
		ClientID:      id,
		SchemaVersion: o.SchemaVersion,
		Log:           s.log,
		PushAuth:      o.PushAuth,
		PullAuth:      o.PullAuth,
		GetPushAuth:   syncengine.AuthRefresher(o.GetPushAuth),
		GetPullAuth:   syncengine.AuthRefresher(o.GetPullAuth),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.pushLoop = connloop.New(func(ctx context.Context) (bool, error) {
		err := s.engine.Push(ctx)
		if err != nil {
			s.log.Error("push failed", "error", err)
		}
		return err == nil, err
	})
	s.pushLoop.DebounceDelay = o.PushDelay
	s.pushLoop.MaxConns = o.MaxConnections
	s.pushLoop.OnSync = s.sync.set

	s.pullLoop = connloop.New(func(ctx context.Context) (bool, error) {
		ok, err := s.doPull(ctx)
		if err != nil {
			s.log.Error("pull failed", "error", err)
		}
		return ok, err
	})
	s.pullLoop.MaxConns = o.MaxConnections
	s.pullLoop.Watchdog = o.PullInterval
	s.pullLoop.OnSync = s.sync.set

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.pushLoop.Run(s.ctx) }()
	go func() { defer s.wg.Done(); s.pullLoop.Run(s.ctx) }()

	return s, nil
}

func openBackend(o Options) (backend.Store, error) {
	return o.opener().Open(o.Name)
}

// Delete destroys a named store's durable state. For the bbolt backend
// this removes the underlying file; memory stores hold nothing durable,
// so with WithMemstore(true) this is a no-op. The store must not be
// open.
func Delete(name string, opts ...Option) error {
	if name == "" {
		return errs.New(errs.KindProtocolError, "driftkv: Name is required")
	}
	o := newOptions(name, opts)
	return o.opener().Delete(o.Name)
}

func loadOrMintClientID(b backend.Store) (string, error) {
	raw, err := b.Get(clientIDKey)
	if err == nil {
		return string(raw), nil
	}
	if err != backend.ErrNotFound {
		return "", err
	}
	id := uuid.New().String()
	batch := b.NewBatch()
	batch.Put(clientIDKey, []byte(id))
	if err := batch.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ClientID returns this store's persisted UUIDv4 identity.
func (s *Store) ClientID() string { return s.clientID }

// onMutationCommitted nudges the push loop after a mutator commits
// successfully.
func (s *Store) onMutationCommitted() {
	s.pushLoop.Send()
}

// doPull runs one begin/maybe-end pull cycle, used by both the automatic
// pull loop and the explicit Pull method.
func (s *Store) doPull(ctx context.Context) (bool, error) {
	ps, err := s.engine.BeginPull(ctx)
	if err != nil {
		return false, err
	}
	if _, err := s.engine.MaybeEndPull(ctx, ps); err != nil {
		return false, err
	}
	return true, nil
}

// Pull runs one explicit begin/maybe-end pull cycle synchronously,
// independent of the background pull loop's watchdog-driven schedule.
func (s *Store) Pull(ctx context.Context) error {
	_, err := s.doPull(ctx)
	return err
}

// BeginPull runs the first half of the pull state machine directly;
// most callers should use Pull instead.
func (s *Store) BeginPull(ctx context.Context) (*syncengine.PullState, error) {
	return s.engine.BeginPull(ctx)
}

// MaybeEndPull runs the second half of the pull state machine directly
// against a PullState from BeginPull.
func (s *Store) MaybeEndPull(ctx context.Context, ps *syncengine.PullState) (*store.Diff, error) {
	return s.engine.MaybeEndPull(ctx, ps)
}

// Send nudges the background push loop without waiting for a mutator
// commit, e.g. to flush pending mutations left over from a prior process.
func (s *Store) Send() { s.pushLoop.Send() }

// Get, Has, IsEmpty and Scan each open a short-lived read transaction
// against the current head, so callers get one-shot reads without
// managing a transaction themselves.
func (s *Store) Get(key string) (any, bool, error) {
	tx, err := s.inner.ReadTx()
	if err != nil {
		return nil, false, err
	}
	defer tx.Close()
	v, ok := tx.Get(key)
	return v, ok, nil
}

func (s *Store) Has(key string) (bool, error) {
	tx, err := s.inner.ReadTx()
	if err != nil {
		return false, err
	}
	defer tx.Close()
	return tx.Has(key), nil
}

func (s *Store) IsEmpty() (bool, error) {
	tx, err := s.inner.ReadTx()
	if err != nil {
		return false, err
	}
	defer tx.Close()
	return tx.IsEmpty(), nil
}

// Scan runs opts against the current head. The returned iterator is
// already fully materialized, so it outlives the transaction opened
// internally to build it.
func (s *Store) Scan(opts store.ScanOptions) (*store.Iterator, error) {
	tx, err := s.inner.ReadTx()
	if err != nil {
		return nil, err
	}
	defer tx.Close()
	return tx.Scan(opts)
}

// CreateIndex and DropIndex delegate to the transactional store.
func (s *Store) CreateIndex(name, keyPrefix, pointer string) error {
	return s.inner.CreateIndex(name, keyPrefix, pointer)
}

func (s *Store) DropIndex(name string) error {
	return s.inner.DropIndex(name)
}

// Subscribe registers a live query.
func (s *Store) Subscribe(query subscribe.QueryFunc, h subscribe.Handlers) subscribe.CancelFunc {
	return s.subs.Subscribe(query, h)
}

// Close stops the background loops, fires on_done for every live
// subscription, and releases the backend. Further operations on s fail
// with errs.ErrStoreClosed.
func (s *Store) Close() error {
	s.cancel()
	s.pushLoop.Close()
	s.pullLoop.Close()
	s.wg.Wait()
	s.subs.Close()
	return s.inner.Close()
}

// syncNotifier coalesces the push and pull loops' independent OnSync
// callbacks into a single is-syncing bool: true while at least one
// direction is actively dispatching.
type syncNotifier struct {
	mu     sync.Mutex
	active int
	cb     func(bool)
}

func (n *syncNotifier) set(syncing bool) {
	if n.cb == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if syncing {
		n.active++
		if n.active == 1 {
			n.cb(true)
		}
		return
	}
	n.active--
	if n.active == 0 {
		n.cb(false)
	}
}

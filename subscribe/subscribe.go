// Package subscribe implements incremental query re-evaluation: a query
// runs against a read-tracking transaction, its read set of keys and
// index entries is recorded, and the query is re-run only when a
// commit's diff intersects that read set. OnData fires on structural
// change, OnError on query failure, OnDone exactly once.
package subscribe

import (
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/driftkv/driftkv/store"
)

// QueryFunc is a live query body.
type QueryFunc func(tx *TrackedReadTx) (any, error)

// Handlers are the callbacks a subscription drives. Any may be nil.
type Handlers struct {
	OnData  func(any)
	OnError func(error)
	OnDone  func()
}

// CancelFunc unregisters a subscription, firing on_done if it had not
// already fired.
type CancelFunc func()

// Engine owns the live set of subscriptions against a single store and
// re-evaluates them whenever the store notifies a commit/pull-end diff.
// Subscriptions are kept in registration order; that is the order they
// are notified in.
type Engine struct {
	store *store.Store

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// New creates an Engine and registers it as a listener on s.
func New(s *store.Store) *Engine {
	e := &Engine{store: s}
	s.AddListener(e.onDiff)
	return e
}

// Subscribe registers query under handlers. The initial evaluation runs
// asynchronously; subsequent evaluations are driven by store commits
// whose diff intersects the query's read set.
func (e *Engine) Subscribe(query QueryFunc, h Handlers) CancelFunc {
	sub := &subscription{engine: e, query: query, handlers: h}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.fireDone()
		return func() {}
	}
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	go sub.evaluate()
	return func() { e.cancel(sub) }
}

func (e *Engine) cancel(sub *subscription) {
	e.mu.Lock()
	existed := false
	for i, s := range e.subs {
		if s == sub {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			existed = true
			break
		}
	}
	e.mu.Unlock()
	if existed {
		sub.fireDone()
	}
}

func (e *Engine) onDiff(d *store.Diff) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.subs...)
	e.mu.Unlock()

	for _, s := range subs {
		if s.readSetIntersects(d) {
			s.evaluate()
		}
	}
}

// Close fires on_done for every live subscription exactly once. Further
// store diffs are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.fireDone()
	}
}

type subscription struct {
	engine   *Engine
	query    QueryFunc
	handlers Handlers

	mu        sync.Mutex
	rs        *readSet
	last      any
	hasLast   bool
	doneFired bool
}

func (s *subscription) readSetIntersects(d *store.Diff) bool {
	s.mu.Lock()
	rs := s.rs
	s.mu.Unlock()
	return rs == nil || rs.intersects(d)
}

// evaluate runs the query against a fresh read transaction, tracking its
// read set, and fires on_data/on_error as appropriate.
func (s *subscription) evaluate() {
	tx, err := s.engine.store.ReadTx()
	if err != nil {
		s.fireError(err)
		return
	}
	defer tx.Close()

	rs := newReadSet()
	tracked := &TrackedReadTx{tx: tx, rs: rs}

	val, err := runQuery(s.query, tracked)

	s.mu.Lock()
	s.rs = rs
	if err != nil {
		s.mu.Unlock()
		s.fireError(err)
		return
	}
	changed := !s.hasLast || !cmp.Equal(s.last, val)
	s.last = val
	s.hasLast = true
	s.mu.Unlock()

	if changed && s.handlers.OnData != nil {
		s.handlers.OnData(val)
	}
}

// runQuery guards against a panicking query body, surfacing it as an
// ordinary error so on_error fires instead of crashing the evaluator.
func runQuery(query QueryFunc, tx *TrackedReadTx) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscribe: query panicked: %v", r)
		}
	}()
	return query(tx)
}

func (s *subscription) fireError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *subscription) fireDone() {
	s.mu.Lock()
	if s.doneFired {
		s.mu.Unlock()
		return
	}
	s.doneFired = true
	s.mu.Unlock()
	if s.handlers.OnDone != nil {
		s.handlers.OnDone()
	}
}

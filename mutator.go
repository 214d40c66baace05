package driftkv

import (
	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/mutation"
	"github.com/driftkv/driftkv/store"
)

// Mutator is the handle returned by Register: calling Invoke runs the
// registered write procedure in a fresh write transaction and, on
// success, appends it to the pending mutation log and nudges the push
// loop.
type Mutator struct {
	store *Store
	name  string
}

// Register adds a named write procedure, overwriting any previous
// registration under the same name. Applications normally register every
// mutator once at startup, before any pull can replay a mutation by name.
func (s *Store) Register(name string, fn mutation.Func) *Mutator {
	s.mutators.Register(name, fn)
	return &Mutator{store: s, name: name}
}

// Invoke runs the mutator against a fresh write transaction with the
// given arguments. A failing fn aborts the transaction without a commit,
// so it never enters the pending log and is never pushed; the error is
// returned wrapped as errs.KindMutatorFailed.
func (m *Mutator) Invoke(args map[string]any) error {
	fn, err := m.store.mutators.Lookup(m.name)
	if err != nil {
		return err
	}

	tx, err := m.store.inner.WriteTx(m.name)
	if err != nil {
		return err
	}
	tx.SetArgs(args)

	if mutErr := invokeSafely(fn, tx, args); mutErr != nil {
		tx.Abort()
		return errs.Wrap(errs.KindMutatorFailed, mutErr)
	}

	if _, err := tx.Commit(); err != nil {
		return err
	}
	m.store.onMutationCommitted()
	return nil
}

func invokeSafely(fn mutation.Func, tx *store.WriteTx, args map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.KindMutatorFailed, "mutator panicked: %v", r)
		}
	}()
	return fn(tx, args)
}

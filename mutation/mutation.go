// Package mutation holds the registered-mutator machinery: named write
// procedures the application supplies, invoked locally and replayed on
// the server from their stored name and arguments.
package mutation

import (
	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/store"
)

// Func is an application-supplied write procedure. It receives the write
// transaction to operate on plus its own decoded arguments.
type Func func(tx *store.WriteTx, args map[string]any) error

// Registry maps mutator names to their implementations.
type Registry struct {
	fns map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register adds fn under name, overwriting any previous registration.
// Applications normally register every mutator once at startup, before
// any mutation referencing it can be replayed.
func (r *Registry) Register(name string, fn Func) {
	r.fns[name] = fn
}

// Lookup returns the registered function for name, or
// errs.ErrUnknownMutator if nothing is registered under that name.
func (r *Registry) Lookup(name string) (Func, error) {
	fn, ok := r.fns[name]
	if !ok {
		return nil, errs.ErrUnknownMutator
	}
	return fn, nil
}

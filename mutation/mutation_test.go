package mutation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/store"
)

func TestRegistry_LookupReturnsRegisteredFunc(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("createTodo", func(tx *store.WriteTx, args map[string]any) error {
		called = true
		return nil
	})

	fn, err := r.Lookup("createTodo")
	require.NoError(t, err)
	require.NoError(t, fn(nil, nil))
	require.True(t, called)
}

func TestRegistry_LookupUnknownNameFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("missing")
	require.ErrorIs(t, err, errs.ErrUnknownMutator)
}

func TestRegistry_RegisterOverwritesPreviousRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("mut", func(tx *store.WriteTx, args map[string]any) error { return nil })
	r.Register("mut", func(tx *store.WriteTx, args map[string]any) error { return errs.ErrUnknownIndex })

	fn, err := r.Lookup("mut")
	require.NoError(t, err)
	require.ErrorIs(t, fn(nil, nil), errs.ErrUnknownIndex)
}

package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Has("missing")
	require.NoError(t, err)
	require.False(t, ok)

	b := s.NewBatch()
	b.Put("a", []byte("1"))
	b.Put("b", []byte("2"))
	require.NoError(t, b.Commit())

	v, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	snap := s.Snapshot()
	defer snap.Release()

	b2 := s.NewBatch()
	b2.Delete("a")
	b2.Put("c", []byte("3"))
	require.NoError(t, b2.Commit())

	// snapshot taken before the second batch must not see it.
	sv, err := snap.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), sv)

	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrNotFound)

	v, err = s.Get("c")
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

func TestBoltStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBolt(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestMemoryOpener_ReusesNamedStore(t *testing.T) {
	o := NewMemoryOpener()
	s1, err := o.Open("a")
	require.NoError(t, err)
	s2, err := o.Open("a")
	require.NoError(t, err)
	require.Same(t, s1, s2)

	require.NoError(t, o.Delete("a"))
	s3, err := o.Open("a")
	require.NoError(t, err)
	require.NotSame(t, s1, s3)
}

func TestBoltOpener_DeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	o := NewBoltOpener(dir)
	s, err := o.Open("db1")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, o.Delete("db1"))

	_, statErr := os.Stat(filepath.Join(dir, "db1.db"))
	require.Error(t, statErr)
}

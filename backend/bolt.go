package backend

import (
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("driftkv")

// Bolt is a durable Store backed by a single-file bbolt database. bbolt's
// single-writer/multi-reader transactions already give the snapshot
// semantics the commit-graph store needs, so this adapter does no locking
// of its own.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at path.
func OpenBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append(out, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) Has(key string) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketName).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (b *Bolt) Snapshot() Snapshot {
	tx, err := b.db.Begin(false)
	if err != nil {
		return &boltSnapshot{err: err}
	}
	return &boltSnapshot{tx: tx}
}

func (b *Bolt) NewBatch() Batch {
	return &boltBatch{db: b.db, puts: make(map[string][]byte), dels: make(map[string]struct{})}
}

func (b *Bolt) Close() error { return b.db.Close() }

// DeleteFile removes a Bolt database file entirely.
func DeleteFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

type boltSnapshot struct {
	tx  *bolt.Tx
	err error
}

func (s *boltSnapshot) Get(key string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := s.tx.Bucket(bucketName).Get([]byte(key))
	if v == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *boltSnapshot) Has(key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.tx.Bucket(bucketName).Get([]byte(key)) != nil, nil
}

func (s *boltSnapshot) Release() {
	if s.tx != nil {
		_ = s.tx.Rollback()
	}
}

type boltBatch struct {
	db   *bolt.DB
	puts map[string][]byte
	dels map[string]struct{}
}

func (b *boltBatch) Put(key string, value []byte) {
	delete(b.dels, key)
	b.puts[key] = value
}

func (b *boltBatch) Delete(key string) {
	delete(b.puts, key)
	b.dels[key] = struct{}{}
}

func (b *boltBatch) Commit() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for k, v := range b.puts {
			if err := bucket.Put([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range b.dels {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// BoltOpener opens durable Bolt stores rooted under a directory, one file
// per store name.
type BoltOpener struct {
	dir string
}

// NewBoltOpener returns an Opener that stores each named database under
// dir/<name>.db.
func NewBoltOpener(dir string) *BoltOpener {
	return &BoltOpener{dir: dir}
}

func (o *BoltOpener) path(name string) string {
	return filepath.Join(o.dir, name+".db")
}

func (o *BoltOpener) Open(name string) (Store, error) {
	return OpenBolt(o.path(name))
}

func (o *BoltOpener) Delete(name string) error {
	return DeleteFile(o.path(name))
}

package store

import (
	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/jsonptr"
)

// CreateIndex builds a new secondary index over every row matching
// keyPrefix, committing it atomically as an IndexChange.
func (s *Store) CreateIndex(name, keyPrefix, pointer string) error {
	if !jsonptr.Valid(pointer) {
		return errs.ErrInvalidPointer
	}
	if s.isClosed() {
		return errs.ErrStoreClosed
	}
	s.mu.Lock()

	base := s.headMaterialized()
	if _, exists := base.IndexDefs[name]; exists {
		s.mu.Unlock()
		return errs.ErrIndexExists
	}

	def := IndexDef{Name: name, KeyPrefix: keyPrefix, Pointer: pointer}
	build := make(map[string]IndexOp)
	for key, value := range base.Rows {
		for _, e := range entriesForRow(def, key, value) {
			build[e.storageKey()] = IndexOp{Entry: e}
		}
	}

	c := &Commit{
		Kind:         KindIndexChange,
		Parent:       s.head,
		CreatedIndex: &def,
		BuildRows:    build,
	}

	s.wmu.Lock()
	s.g.add(c)
	err := s.persistNewCommits([]*Commit{c}, c.Hash)
	if err == nil {
		s.head = c.Hash
		s.gc()
	}
	s.wmu.Unlock()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(diffFromIndexChange(c))
	return nil
}

// DropIndex removes a previously created index. Scans naming it fail
// afterwards with errs.ErrUnknownIndex.
func (s *Store) DropIndex(name string) error {
	if s.isClosed() {
		return errs.ErrStoreClosed
	}
	s.mu.Lock()

	base := s.headMaterialized()
	if _, exists := base.IndexDefs[name]; !exists {
		s.mu.Unlock()
		return errs.ErrUnknownIndex
	}

	build := make(map[string]IndexOp)
	for sk, e := range base.Indexes {
		if e.Index == name {
			build[sk] = IndexOp{Delete: true, Entry: e}
		}
	}

	c := &Commit{
		Kind:         KindIndexChange,
		Parent:       s.head,
		DroppedIndex: name,
		BuildRows:    build,
	}

	s.wmu.Lock()
	s.g.add(c)
	err := s.persistNewCommits([]*Commit{c}, c.Hash)
	if err == nil {
		s.head = c.Hash
		s.gc()
	}
	s.wmu.Unlock()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(diffFromIndexChange(c))
	return nil
}

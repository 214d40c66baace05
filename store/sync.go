package store

import (
	"encoding/json"

	"github.com/driftkv/driftkv/errs"
)

// Head returns the hash of the current main head commit.
func (s *Store) Head() string {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.head
}

// SyncHead returns the hash of the in-flight sync branch head, or "" if
// no pull is currently in flight.
func (s *Store) SyncHead() string {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.syncHead
}

// SnapshotInfo reports the cookie and lastMutationID in effect at hash,
// inherited from its nearest Snapshot ancestor.
func (s *Store) SnapshotInfo(hash string) (cookie json.RawMessage, lastMutationID uint64, err error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.loadChain(hash); err != nil {
		return nil, 0, err
	}
	m := s.g.materialize(hash)
	return json.RawMessage(m.Cookie), m.LastMutationID, nil
}

// PendingMutation is one local commit not yet acknowledged by the server.
type PendingMutation struct {
	ID      uint64
	Name    string
	Args    map[string]any
	Errored bool
}

// PendingMutations walks back from hash to its nearest Snapshot ancestor,
// returning every Local commit with a mutation ID greater than that
// snapshot's lastMutationID, in ascending ID order. A commit graph has no
// separate persisted mutation log; pending mutations are just the Local
// commits between the nearest snapshot and hash.
func (s *Store) PendingMutations(hash string) ([]PendingMutation, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.loadChain(hash); err != nil {
		return nil, err
	}

	var snapshotLastMutationID uint64
	var rev []PendingMutation
	for cur := hash; cur != ""; {
		c, ok := s.g.get(cur)
		if !ok {
			break
		}
		if c.Kind == KindSnapshot {
			snapshotLastMutationID = c.LastMutationID
			break
		}
		if c.Kind == KindLocal {
			rev = append(rev, PendingMutation{
				ID:      c.MutationID,
				Name:    c.MutationName,
				Args:    c.MutationArgs,
				Errored: c.Errored,
			})
		}
		cur = c.Parent
	}

	out := make([]PendingMutation, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		if rev[i].ID > snapshotLastMutationID {
			out = append(out, rev[i])
		}
	}
	return out, nil
}

// PatchOp is one pull-response patch operation. Key=="" on a del means
// clear every row, applied before any later op in the same patch.
type PatchOp struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// ApplyPatch builds a new sync snapshot by applying ops to the state at
// baseHash, recomputing every live index entry touched along the way. It
// does not move the main head; the caller replays pending mutations on
// top of the returned hash and eventually calls SwapHead.
func (s *Store) ApplyPatch(baseHash string, cookie json.RawMessage, lastMutationID uint64, ops []PatchOp) (string, error) {
	if s.isClosed() {
		return "", errs.ErrStoreClosed
	}
	s.wmu.Lock()

	base := s.g.materialize(baseHash)
	rows := cloneAny(base.Rows)
	indexes := cloneIndex(base.Indexes)
	defs := base.IndexDefs

	reindex := func(key string, old any, hadOld bool, value any, hasNew bool) {
		for _, def := range defs {
			var before, after []indexEntry
			if hadOld {
				before = entriesForRow(def, key, old)
			}
			if hasNew {
				after = entriesForRow(def, key, value)
			}
			afterSet := make(map[string]indexEntry, len(after))
			for _, e := range after {
				afterSet[e.storageKey()] = e
			}
			for _, e := range before {
				if _, keep := afterSet[e.storageKey()]; !keep {
					delete(indexes, e.storageKey())
				}
			}
			for sk, e := range afterSet {
				indexes[sk] = e
			}
		}
	}

	for _, op := range ops {
		switch op.Op {
		case "del":
			if op.Key == "" {
				for k, v := range rows {
					reindex(k, v, true, nil, false)
				}
				rows = map[string]any{}
				continue
			}
			if v, ok := rows[op.Key]; ok {
				reindex(op.Key, v, true, nil, false)
				delete(rows, op.Key)
			}
		case "put":
			old, hadOld := rows[op.Key]
			reindex(op.Key, old, hadOld, op.Value, true)
			rows[op.Key] = op.Value
		}
	}

	c := &Commit{
		Kind:           KindSnapshot,
		Parent:         baseHash,
		Cookie:         json.RawMessage(cookie),
		LastMutationID: lastMutationID,
		BaseRows:       rows,
		BaseIndexes:    indexes,
		IndexDefs:      cloneDefs(defs),
	}
	s.g.add(c)
	err := s.persistNewCommits([]*Commit{c}, s.head)
	if err == nil {
		s.syncHead = c.Hash
	}
	s.wmu.Unlock()
	if err != nil {
		return "", err
	}
	return c.Hash, nil
}

// SwapHead atomically advances the main head to newHead (a sync branch
// that has absorbed the pull patch and any replayed mutations), clears
// the in-flight sync branch marker, collects garbage and notifies
// listeners of everything that changed between the two states.
func (s *Store) SwapHead(newHead string) (*Diff, error) {
	if s.isClosed() {
		return nil, errs.ErrStoreClosed
	}
	s.mu.Lock()

	s.wmu.Lock()
	oldMat := s.g.materialize(s.head)
	if err := s.loadChain(newHead); err != nil {
		s.wmu.Unlock()
		s.mu.Unlock()
		return nil, err
	}
	newMat := s.g.materialize(newHead)
	diff := diffBetween(oldMat, newMat)

	err := s.persistNewCommits(nil, newHead)
	if err == nil {
		s.head = newHead
		s.syncHead = ""
		s.gc()
	}
	s.wmu.Unlock()
	// Listeners open read transactions of their own, so the write lock
	// must be released before they run.
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.notify(diff)
	return diff, nil
}

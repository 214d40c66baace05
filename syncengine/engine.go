// Package syncengine implements the begin-pull/maybe-end-pull state
// machine and push-path mutation batching that rebase pending local
// mutations on top of server-authoritative snapshots.
package syncengine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/mutation"
	"github.com/driftkv/driftkv/store"
	"github.com/driftkv/driftkv/transport"
)

const maxReauthAttempts = 8

// AuthRefresher obtains a fresh credential after a 401, or returns ""
// to signal no better credential is available.
type AuthRefresher func(ctx context.Context) (string, error)

// Engine drives push and pull against a single store.
type Engine struct {
	Store         *store.Store
	Mutators      *mutation.Registry
	Pusher        transport.Pusher
	Puller        transport.Puller
	ClientID      string
	SchemaVersion string
	Log           *slog.Logger

	PushAuth    string
	PullAuth    string
	GetPushAuth AuthRefresher
	GetPullAuth AuthRefresher
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Push batches every pending mutation reachable from the current main
// head into a single push request. Per-mutation errors reported by the
// server are only logged: mutations leave the pending log exclusively
// via a pull acknowledgement (store.SwapHead), never via push.
func (e *Engine) Push(ctx context.Context) error {
	head := e.Store.Head()
	pending, err := e.Store.PendingMutations(head)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if e.Pusher == nil {
		return errs.New(errs.KindProtocolError, "syncengine: no pusher configured")
	}

	wire := make([]transport.MutationWire, len(pending))
	for i, m := range pending {
		wire[i] = transport.MutationWire{ID: m.ID, Name: m.Name, Args: m.Args}
	}
	req := transport.PushRequest{
		ClientID:      e.ClientID,
		Mutations:     wire,
		PushVersion:   1,
		SchemaVersion: e.SchemaVersion,
	}

	resp, err := withReauth(ctx, e.PushAuth, e.GetPushAuth, func(auth string) (transport.PushResponse, error) {
		return e.Pusher.Push(ctx, req, auth)
	}, func(fresh string) { e.PushAuth = fresh })
	if err != nil {
		return err
	}
	for _, info := range resp.MutationInfos {
		if info.Error != "" {
			e.logger().Error("mutation push error", "id", info.ID, "error", info.Error)
		}
	}
	return nil
}

// PullState threads state between BeginPull and MaybeEndPull.
type PullState struct {
	OK            bool
	SyncHead      string
	baseHead      string
	maxReplayedID uint64
}

// BeginPull issues a pull request for the state at the current main
// head, applies the returned patch to form a new sync snapshot, and
// replays every pending mutation not yet acknowledged by the response
// onto that snapshot. A PullState with OK=true and SyncHead=="" means
// there was nothing to do (empty patch and an unchanged lastMutationID);
// MaybeEndPull is then a no-op.
func (e *Engine) BeginPull(ctx context.Context) (*PullState, error) {
	if e.Puller == nil {
		return nil, errs.New(errs.KindProtocolError, "syncengine: no puller configured")
	}
	head := e.Store.Head()
	cookie, lastMutationID, err := e.Store.SnapshotInfo(head)
	if err != nil {
		return nil, err
	}

	req := transport.PullRequest{
		ClientID:       e.ClientID,
		BaseStateID:    head,
		Cookie:         cookie,
		LastMutationID: lastMutationID,
		PullVersion:    1,
		SchemaVersion:  e.SchemaVersion,
	}
	resp, err := withReauth(ctx, e.PullAuth, e.GetPullAuth, func(auth string) (transport.PullResponse, error) {
		return e.Puller.Pull(ctx, req, auth)
	}, func(fresh string) { e.PullAuth = fresh })
	if err != nil {
		return nil, err
	}

	if resp.LastMutationID < lastMutationID {
		return nil, errs.New(errs.KindProtocolError, "pull response lastMutationID %d decreased from %d", resp.LastMutationID, lastMutationID)
	}

	// Nothing to do only when the server state is unchanged: an empty
	// patch with an advanced lastMutationID still needs a head swap so
	// the newly acknowledged mutations leave the pending log.
	if len(resp.Patch) == 0 && resp.LastMutationID == lastMutationID {
		return &PullState{OK: true, baseHead: head, maxReplayedID: resp.LastMutationID}, nil
	}

	ops := make([]store.PatchOp, len(resp.Patch))
	for i, op := range resp.Patch {
		ops[i] = store.PatchOp{Op: op.Op, Key: op.Key, Value: op.Value}
	}
	syncHead, err := e.Store.ApplyPatch(head, json.RawMessage(resp.Cookie), resp.LastMutationID, ops)
	if err != nil {
		return nil, err
	}

	pending, err := e.Store.PendingMutations(head)
	if err != nil {
		return nil, err
	}
	toReplay := make([]store.PendingMutation, 0, len(pending))
	for _, m := range pending {
		if m.ID > resp.LastMutationID {
			toReplay = append(toReplay, m)
		}
	}

	newHead, maxID, err := e.replay(syncHead, resp.LastMutationID, toReplay)
	if err != nil {
		return nil, err
	}
	return &PullState{OK: true, SyncHead: newHead, baseHead: head, maxReplayedID: maxID}, nil
}

// replay re-commits each pending mutation onto parent in order, invoking
// its registered mutator with the stored arguments. A mutator that
// errors, or names an unregistered mutator, still produces a commit (so
// ordering is preserved) but marked Errored.
func (e *Engine) replay(parent string, maxID uint64, pending []store.PendingMutation) (string, uint64, error) {
	cur := parent
	for _, pm := range pending {
		tx, err := e.Store.WriteTxAt(cur, pm.Name, pm.ID)
		if err != nil {
			return "", maxID, err
		}
		tx.SetArgs(pm.Args)

		fn, lookupErr := e.Mutators.Lookup(pm.Name)
		var mutErr error
		if lookupErr != nil {
			mutErr = lookupErr
		} else {
			mutErr = fn(tx, pm.Args)
		}
		if mutErr != nil {
			tx.Fail()
			e.logger().Error("mutation replay failed", "name", pm.Name, "id", pm.ID, "error", mutErr)
		}

		h, err := tx.Commit()
		if err != nil {
			return "", maxID, err
		}
		cur = h
		if pm.ID > maxID {
			maxID = pm.ID
		}
	}
	return cur, maxID, nil
}

// MaybeEndPull validates that the main head has not advanced since
// BeginPull in a way the sync branch hasn't absorbed, replaying any such
// additional mutations before atomically swapping main head to the sync
// branch and acknowledging every mutation with id <= the pull's
// lastMutationID.
func (e *Engine) MaybeEndPull(ctx context.Context, ps *PullState) (*store.Diff, error) {
	if ps == nil || !ps.OK || ps.SyncHead == "" {
		return nil, nil
	}

	currentHead := e.Store.Head()
	syncHead := ps.SyncHead
	if currentHead != ps.baseHead {
		all, err := e.Store.PendingMutations(currentHead)
		if err != nil {
			return nil, err
		}
		var extra []store.PendingMutation
		for _, m := range all {
			if m.ID > ps.maxReplayedID {
				extra = append(extra, m)
			}
		}
		if len(extra) > 0 {
			syncHead, _, err = e.replay(syncHead, ps.maxReplayedID, extra)
			if err != nil {
				return nil, err
			}
		}
	}

	return e.Store.SwapHead(syncHead)
}

// withReauth calls fn with the current credential, retrying up to
// maxReauthAttempts times via refresh on transport.Unauthorized before
// surfacing errs.ErrReauthLimit.
func withReauth[T any](ctx context.Context, auth string, refresh AuthRefresher, fn func(auth string) (T, error), save func(string)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		resp, err := fn(auth)
		if err == nil {
			return resp, nil
		}
		if _, isUnauthorized := err.(transport.Unauthorized); !isUnauthorized {
			return zero, err
		}
		if attempt >= maxReauthAttempts {
			return zero, errs.New(errs.KindReauthLimit, "tried to reauthenticate too many times")
		}
		if refresh == nil {
			return zero, errs.Wrap(errs.KindUnauthorized, err)
		}
		fresh, refreshErr := refresh(ctx)
		if refreshErr != nil {
			return zero, refreshErr
		}
		if fresh == "" {
			return zero, errs.Wrap(errs.KindUnauthorized, err)
		}
		auth = fresh
		save(fresh)
	}
}

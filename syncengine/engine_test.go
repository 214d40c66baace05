package syncengine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkv/driftkv/backend"
	"github.com/driftkv/driftkv/errs"
	"github.com/driftkv/driftkv/mutation"
	"github.com/driftkv/driftkv/store"
	"github.com/driftkv/driftkv/transport"
)

// fakePusher records every push it receives and lets a test script the
// response and error for each successive call.
type fakePusher struct {
	mu       sync.Mutex
	requests []transport.PushRequest
	resp     transport.PushResponse
	err      error
}

func (p *fakePusher) Push(ctx context.Context, req transport.PushRequest, auth string) (transport.PushResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.resp, p.err
}

// fakePuller returns a scripted sequence of pull responses, one per call.
type fakePuller struct {
	mu        sync.Mutex
	responses []transport.PullResponse
	calls     int
}

func (p *fakePuller) Pull(ctx context.Context, req transport.PullRequest, auth string) (transport.PullResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(backend.NewMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Push batches every pending mutation since the last acknowledged
// snapshot into one request, and retains them in the pending log across
// repeated pushes since only a pull acknowledges them.
func TestPush_BatchesPendingAndRetainsAcrossPushes(t *testing.T) {
	s := newTestStore(t)
	reg := mutation.NewRegistry()
	pusher := &fakePusher{resp: transport.PushResponse{}}
	e := &Engine{Store: s, Mutators: reg, Pusher: pusher, ClientID: "client-1", SchemaVersion: "v1"}

	for i := 0; i < 3; i++ {
		tx, err := s.WriteTx("createTodo")
		require.NoError(t, err)
		require.NoError(t, tx.Put("k"+string(rune('a'+i)), i))
		_, err = tx.Commit()
		require.NoError(t, err)
	}

	require.NoError(t, e.Push(context.Background()))
	require.Len(t, pusher.requests, 1)
	require.Len(t, pusher.requests[0].Mutations, 3)
	require.Equal(t, "client-1", pusher.requests[0].ClientID)

	// Nothing has acknowledged these mutations yet (only a pull does
	// that via SwapHead), so a second push resends the same three.
	require.NoError(t, e.Push(context.Background()))
	require.Len(t, pusher.requests, 2)
	require.Len(t, pusher.requests[1].Mutations, 3)
}

func TestPush_NoPendingMutationsIsNoop(t *testing.T) {
	s := newTestStore(t)
	pusher := &fakePusher{}
	e := &Engine{Store: s, Mutators: mutation.NewRegistry(), Pusher: pusher}

	require.NoError(t, e.Push(context.Background()))
	require.Empty(t, pusher.requests)
}

func TestPush_NilPusherIsProtocolError(t *testing.T) {
	s := newTestStore(t)
	tx, err := s.WriteTx("createTodo")
	require.NoError(t, err)
	require.NoError(t, tx.Put("k", 1))
	_, err = tx.Commit()
	require.NoError(t, err)

	e := &Engine{Store: s, Mutators: mutation.NewRegistry()}
	err = e.Push(context.Background())
	require.ErrorIs(t, err, errs.ErrProtocolError)
}

func TestPush_LogsPerMutationServerErrorsButDoesNotFail(t *testing.T) {
	s := newTestStore(t)
	tx, err := s.WriteTx("createTodo")
	require.NoError(t, err)
	require.NoError(t, tx.Put("k", 1))
	_, err = tx.Commit()
	require.NoError(t, err)

	pusher := &fakePusher{resp: transport.PushResponse{
		MutationInfos: []transport.MutationInfo{{ID: 1, Error: "validation failed"}},
	}}
	e := &Engine{Store: s, Mutators: mutation.NewRegistry(), Pusher: pusher}
	require.NoError(t, e.Push(context.Background()))
}

// Pull applies the server's patch, replays any mutations the
// response hasn't acknowledged, and MaybeEndPull atomically swaps main
// head to the resulting sync branch, acknowledging everything up to the
// response's lastMutationID.
func TestBeginPullAndMaybeEndPull_AppliesPatchAndReplaysPending(t *testing.T) {
	s := newTestStore(t)
	reg := mutation.NewRegistry()
	reg.Register("setTitle", func(tx *store.WriteTx, args map[string]any) error {
		return tx.Put("todo/1", args["title"])
	})

	tx, err := s.WriteTx("setTitle")
	require.NoError(t, err)
	tx.SetArgs(map[string]any{"title": "buy milk"})
	require.NoError(t, tx.Put("todo/1", "buy milk"))
	_, err = tx.Commit()
	require.NoError(t, err)

	puller := &fakePuller{responses: []transport.PullResponse{
		{
			Cookie:         json.RawMessage(`"server-cookie-1"`),
			LastMutationID: 0,
			Patch: []transport.PatchOpWire{
				{Op: "put", Key: "todo/0", Value: "server seeded"},
			},
		},
	}}
	e := &Engine{Store: s, Mutators: reg, Puller: puller, ClientID: "client-1"}

	ps, err := e.BeginPull(context.Background())
	require.NoError(t, err)
	require.True(t, ps.OK)
	require.NotEmpty(t, ps.SyncHead)

	diff, err := e.MaybeEndPull(context.Background(), ps)
	require.NoError(t, err)
	require.NotNil(t, diff)

	rtx, err := s.ReadTx()
	require.NoError(t, err)
	defer rtx.Close()
	v, ok := rtx.Get("todo/0")
	require.True(t, ok)
	require.Equal(t, "server seeded", v)
	v, ok = rtx.Get("todo/1")
	require.True(t, ok)
	require.Equal(t, "buy milk", v)
}

func TestBeginPull_NothingToDoReturnsOKWithEmptySyncHead(t *testing.T) {
	s := newTestStore(t)
	puller := &fakePuller{responses: []transport.PullResponse{
		{LastMutationID: 0},
	}}
	e := &Engine{Store: s, Mutators: mutation.NewRegistry(), Puller: puller}

	ps, err := e.BeginPull(context.Background())
	require.NoError(t, err)
	require.True(t, ps.OK)
	require.Empty(t, ps.SyncHead)

	diff, err := e.MaybeEndPull(context.Background(), ps)
	require.NoError(t, err)
	require.Nil(t, diff)
}

func TestBeginPull_DecreasingLastMutationIDIsProtocolError(t *testing.T) {
	s := newTestStore(t)
	reg := mutation.NewRegistry()
	reg.Register("mut", func(tx *store.WriteTx, args map[string]any) error { return tx.Put("k", 1) })

	for i := 0; i < 2; i++ {
		tx, err := s.WriteTx("mut")
		require.NoError(t, err)
		require.NoError(t, tx.Put("k", i))
		_, err = tx.Commit()
		require.NoError(t, err)
	}

	// A pull acknowledging everything moves the snapshot's
	// lastMutationID up to 5.
	puller := &fakePuller{responses: []transport.PullResponse{{LastMutationID: 5}}}
	e := &Engine{Store: s, Mutators: reg, Puller: puller}
	ps, err := e.BeginPull(context.Background())
	require.NoError(t, err)
	_, err = e.MaybeEndPull(context.Background(), ps)
	require.NoError(t, err)

	// A later response regressing below 5 is malformed.
	pullerRegress := &fakePuller{responses: []transport.PullResponse{{LastMutationID: 1}}}
	eRegress := &Engine{Store: s, Mutators: reg, Puller: pullerRegress}
	_, err = eRegress.BeginPull(context.Background())
	require.ErrorIs(t, err, errs.ErrProtocolError)
}

func TestBeginPull_NilPullerIsProtocolError(t *testing.T) {
	s := newTestStore(t)
	e := &Engine{Store: s, Mutators: mutation.NewRegistry()}
	_, err := e.BeginPull(context.Background())
	require.ErrorIs(t, err, errs.ErrProtocolError)
}

func TestReplay_MutatorErrorStillCommitsButMarksErrored(t *testing.T) {
	s := newTestStore(t)
	reg := mutation.NewRegistry()
	reg.Register("broken", func(tx *store.WriteTx, args map[string]any) error {
		return assert.AnError
	})

	tx, err := s.WriteTx("broken")
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	puller := &fakePuller{responses: []transport.PullResponse{{
		LastMutationID: 0,
		Patch:          []transport.PatchOpWire{{Op: "put", Key: "seed", Value: "x"}},
	}}}
	e := &Engine{Store: s, Mutators: reg, Puller: puller}

	ps, err := e.BeginPull(context.Background())
	require.NoError(t, err)
	require.True(t, ps.OK)
	require.NotEmpty(t, ps.SyncHead)

	diff, err := e.MaybeEndPull(context.Background(), ps)
	require.NoError(t, err)
	require.NotNil(t, diff)

	// The broken mutation replayed onto the sync branch and is still
	// pending (id 1 > lastMutationID 0), now marked errored.
	pending, err := s.PendingMutations(s.Head())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, pending[0].Errored)
}

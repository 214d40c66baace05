package connloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Three consecutive failures followed by a success: the gaps before the
// second and third dispatches are at least 30 and 60ms (less 2ms of
// timer slack).
func TestLoop_BackoffThenRecovery(t *testing.T) {
	var mu sync.Mutex
	var dispatchTimes []time.Time
	outcomes := []bool{false, false, false, true}
	idx := 0

	l := New(func(ctx context.Context) (bool, error) {
		mu.Lock()
		dispatchTimes = append(dispatchTimes, time.Now())
		ok := outcomes[idx]
		idx++
		mu.Unlock()
		return ok, nil
	})
	l.DebounceDelay = time.Millisecond
	l.MaxConns = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for i := 0; i < len(outcomes); i++ {
		l.Send()
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(dispatchTimes) > i
		}, 2*time.Second, time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatchTimes, 4)
	require.GreaterOrEqual(t, dispatchTimes[1].Sub(dispatchTimes[0]), 28*time.Millisecond)
	require.GreaterOrEqual(t, dispatchTimes[2].Sub(dispatchTimes[1]), 58*time.Millisecond)
}

func TestComputeDelay_NoRecordsIsMinDelay(t *testing.T) {
	l := New(nil)
	require.Equal(t, minDelay, l.computeDelay())
}

func TestComputeDelay_FailureDoublesPreviousDelay(t *testing.T) {
	l := New(nil)
	l.delay = 1000 * time.Millisecond
	l.history = []outcome{{ok: false}}
	require.Equal(t, 2000*time.Millisecond, l.computeDelay())
}

func TestComputeDelay_FailureCapsAtMaxDelay(t *testing.T) {
	l := New(nil)
	l.delay = maxDelay
	l.history = []outcome{{ok: false}}
	require.Equal(t, maxDelay, l.computeDelay())
}

func TestComputeDelay_SingleOkRecordUsesDurationOverMaxConns(t *testing.T) {
	l := New(nil)
	l.MaxConns = 2
	l.history = []outcome{{ok: true, duration: 100 * time.Millisecond}}
	require.Equal(t, 50*time.Millisecond, l.computeDelay())
}

func TestComputeDelay_RecoveryResetsToMinDelay(t *testing.T) {
	l := New(nil)
	l.history = []outcome{{ok: false}, {ok: true, duration: 500 * time.Millisecond}}
	require.Equal(t, minDelay, l.computeDelay())
}

func TestComputeDelay_MultipleOkUsesMedianOverMaxConns(t *testing.T) {
	l := New(nil)
	l.MaxConns = 1
	l.history = []outcome{
		{ok: true, duration: 10 * time.Millisecond},
		{ok: true, duration: 30 * time.Millisecond},
		{ok: true, duration: 20 * time.Millisecond},
	}
	require.Equal(t, 20*time.Millisecond, l.computeDelay())
}

func TestHistory_PrunedToWindow(t *testing.T) {
	l := New(func(ctx context.Context) (bool, error) { return true, nil })
	for i := 0; i < historyWindow+5; i++ {
		l.dispatch(context.Background())
	}
	require.Len(t, l.history, historyWindow)
}

func TestAdmit_BlocksAtMaxConnections(t *testing.T) {
	l := New(nil)
	l.MaxConns = 1
	l.active = 1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.admit(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("admit returned while active >= maxConns")
	case <-time.After(10 * time.Millisecond):
	}

	l.mu.Lock()
	l.active = 0
	l.mu.Unlock()
	<-done
}

func TestClose_StopsRun(t *testing.T) {
	invoked := make(chan struct{}, 1)
	l := New(func(ctx context.Context) (bool, error) {
		invoked <- struct{}{}
		return true, nil
	})
	l.DebounceDelay = time.Millisecond

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	l.Send()
	<-invoked

	l.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

package approval

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledPeer never finishes a write until release is closed.
func stalledPeer(t *testing.T) (p *peer, release chan struct{}, closed *atomic.Bool) {
	t.Helper()
	release = make(chan struct{})
	closed = &atomic.Bool{}
	var once sync.Once
	p = startPeer(func(any) error {
		<-release
		return nil
	}, func() error {
		closed.Store(true)
		once.Do(func() { close(release) })
		return nil
	})
	t.Cleanup(p.close)
	return p, release, closed
}

func TestPeer_WritesInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []any
	)
	p := startPeer(func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
		return nil
	}, func() error { return nil })
	defer p.close()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.send(i))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestPeer_SlowClientIsDisconnected(t *testing.T) {
	p, _, closed := stalledPeer(t)

	var err error
	for i := 0; i < sendQueueSize+2 && err == nil; i++ {
		err = p.send(i)
	}
	assert.ErrorIs(t, err, errPeerSlow)
	assert.True(t, closed.Load())
	assert.ErrorIs(t, p.send("late"), errPeerClosed)
}

func TestChannel_StalledClientDoesNotBlockDecisions(t *testing.T) {
	ch, srv := newTestChannel(t, Config{AllowRedecide: true}, nil)
	conn := dial(t, ch, srv)

	stalled, _, _ := stalledPeer(t)
	ch.addClient(stalled)
	t.Cleanup(func() { ch.removeClient(stalled) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Submit(Message{ID: "msg-1", Title: "Run script", RequiresResponse: true})
		_, _, _ = ch.Decide("msg-1", StatusApproved, "")
		_, _, _ = ch.Decide("msg-1", StatusRejected, "")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("decisions blocked behind a client that does not read")
	}
	assert.Equal(t, "approved", receive(t, conn)["status"])
	assert.Equal(t, "rejected", receive(t, conn)["status"])
}

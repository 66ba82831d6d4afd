package beat

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func beatFor(addrs ...common.Address) Beat {
	filter := NewFilter(make([]byte, 256), 3)
	for _, a := range addrs {
		filter.Add(a.Bytes())
	}
	return Beat{
		Number: 1,
		Bloom:  hexutil.Encode(filter.bits),
		K:      3,
	}
}

func newTestSubscriber(t *testing.T, handler http.HandlerFunc) *Subscriber {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub := NewSubscriber(srv.URL, nil, logger)
	sub.reconnectWait = 10 * time.Millisecond
	return sub
}

func TestSubscriber_DeliversRelevantBeats(t *testing.T) {
	watched := common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	other := common.HexToAddress("0x0000000000000000000000000000000000000001")

	sub := newTestSubscriber(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/beat2", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// One irrelevant beat, then one relevant beat.
		require.NoError(t, conn.WriteJSON(beatFor(other)))
		relevant := beatFor(watched)
		relevant.Number = 2
		require.NoError(t, conn.WriteJSON(relevant))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	ch, stop := sub.Watch(watched)
	defer stop()

	select {
	case b := <-ch:
		assert.Equal(t, uint32(2), b.Number, "irrelevant beat must be filtered out")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relevant beat")
	}
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	watched := common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	var conns int32

	sub := newTestSubscriber(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		n := atomic.AddInt32(&conns, 1)
		if n == 1 {
			// First connection drops immediately: consumers see a gap, not an error.
			conn.Close()
			return
		}

		defer conn.Close()
		b := beatFor(watched)
		b.Number = uint32(n)
		require.NoError(t, conn.WriteJSON(b))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	ch, stop := sub.Watch(watched)
	defer stop()

	select {
	case b := <-ch:
		assert.GreaterOrEqual(t, int32(b.Number), int32(2), "beat must arrive on a later connection")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for beat after reconnect")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&conns), int32(2))
}

func TestSubscriber_WatchTeardownIsIdempotent(t *testing.T) {
	sub := newTestSubscriber(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	watched := common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	ch, stop := sub.Watch(watched)

	stop()
	stop() // must not panic on double close

	_, open := <-ch
	assert.False(t, open, "channel must be closed after teardown")

	sub.mu.Lock()
	assert.Empty(t, sub.watchers)
	sub.mu.Unlock()
}

func TestSubscriber_RunStopsOnContextCancel(t *testing.T) {
	sub := newTestSubscriber(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

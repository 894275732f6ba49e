package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/5stackgg/realtime/pkg/types"
)

// fakeConn is an in-memory duplex connection. Tests push inbound frames on
// in and observe the client's writes on out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, errors.New("connection dropped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, b []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection dropped")
	default:
	}
	f.out <- b
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// drop simulates losing the link.
func (f *fakeConn) drop() { _ = f.Close() }

// push delivers an inbound frame as the server would.
func (f *fakeConn) push(t *testing.T, event, data string) {
	t.Helper()
	select {
	case f.in <- []byte(`{"event":"` + event + `","data":` + data + `}`):
	default:
		t.Fatalf("inbound buffer full")
	}
}

// fakeDialer hands out a fresh fakeConn per dial attempt.
type fakeDialer struct {
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) dial(context.Context) (Conn, error) {
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

// next waits for the client's next connection attempt.
func (d *fakeDialer) next(t *testing.T, within time.Duration) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(within):
		t.Fatalf("timed out waiting for a dial")
		return nil // unreachable
	}
}

// helper: receive one frame off the wire with a timeout so tests never hang
func recvFrame(t *testing.T, c *fakeConn, within time.Duration) types.InboundFrame {
	t.Helper()
	select {
	case b := <-c.out:
		f, err := types.Decode(b)
		if err != nil {
			t.Fatalf("undecodable frame on wire: %v", err)
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for a frame")
		return types.InboundFrame{} // unreachable
	}
}

func recvNoFrame(t *testing.T, c *fakeConn, within time.Duration) {
	t.Helper()
	select {
	case b := <-c.out:
		t.Fatalf("expected no frame within %v, but got: %s", within, b)
	case <-time.After(within):
		// good: wire stayed quiet
	}
}

func recvSignal(t *testing.T, ch <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("timed out waiting for signal")
	}
}

func newTestClient(t *testing.T, d *fakeDialer) *Client {
	t.Helper()
	c := New(Config{
		Dial:              d.dial,
		Retry:             ConstantDelay(10 * time.Millisecond),
		FlushDelay:        10 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		RejoinInterval:    time.Hour,
	})
	t.Cleanup(c.Close)
	return c
}

func TestClient_RejoinsRoomsOnReconnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	c.Join("presence", map[string]any{"steam_id": "76561198"})
	c.Join("matchmaking", nil)

	c.Connect()
	conn := d.next(t, time.Second)

	// initial connect replays both rooms in registration order
	require.Equal(t, "presence:join", recvFrame(t, conn, time.Second).Event)
	require.Equal(t, "matchmaking:join", recvFrame(t, conn, time.Second).Event)
	recvNoFrame(t, conn, 50*time.Millisecond)

	conn.drop()
	conn2 := d.next(t, time.Second)

	// exactly one join per registered room, again in order
	require.Equal(t, "presence:join", recvFrame(t, conn2, time.Second).Event)
	require.Equal(t, "matchmaking:join", recvFrame(t, conn2, time.Second).Event)
	recvNoFrame(t, conn2, 50*time.Millisecond)
}

func TestClient_FlushesOfflineQueueInOrder(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	c.Event("f1", map[string]any{"n": 1})
	c.Event("f2", map[string]any{"n": 2})
	c.Event("f3", map[string]any{"n": 3})

	c.Connect()
	conn := d.next(t, time.Second)

	for _, want := range []string{"f1", "f2", "f3"} {
		require.Equal(t, want, recvFrame(t, conn, time.Second).Event)
	}
	recvNoFrame(t, conn, 50*time.Millisecond)
}

func TestClient_DropBeforeSettleKeepsQueueForNextConnection(t *testing.T) {
	d := newFakeDialer()
	c := New(Config{
		Dial:              d.dial,
		Retry:             ConstantDelay(5 * time.Millisecond),
		FlushDelay:        60 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		RejoinInterval:    time.Hour,
	})
	t.Cleanup(c.Close)

	c.Event("f1", nil)
	c.Connect()

	conn := d.next(t, time.Second)
	conn.drop() // lose the link before the settle delay elapses

	conn2 := d.next(t, time.Second)
	require.Equal(t, "f1", recvFrame(t, conn2, time.Second).Event)

	// the first connection's stale flush must not have sent anything
	recvNoFrame(t, conn, 100*time.Millisecond)
}

// flakyConn fails every write after the first failAfter successes.
type flakyConn struct {
	*fakeConn
	failAfter int
	writes    int
}

func (f *flakyConn) Write(ctx context.Context, b []byte) error {
	f.writes++
	if f.writes > f.failAfter {
		return errors.New("write failed")
	}
	return f.fakeConn.Write(ctx, b)
}

func TestClient_FlushKeepsFrameThatFailedToSend(t *testing.T) {
	first := &flakyConn{fakeConn: newFakeConn(), failAfter: 1}
	second := newFakeConn()
	dials := 0
	dial := func(context.Context) (Conn, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}

	c := New(Config{
		Dial:              dial,
		Retry:             ConstantDelay(10 * time.Millisecond),
		FlushDelay:        10 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		RejoinInterval:    time.Hour,
	})
	t.Cleanup(c.Close)

	c.Event("f1", nil)
	c.Event("f2", nil)
	c.Event("f3", nil)
	c.Connect()

	// the write fault hits f2, so only f1 makes it out
	require.Equal(t, "f1", recvFrame(t, first.fakeConn, time.Second).Event)
	recvNoFrame(t, first.fakeConn, 50*time.Millisecond)

	// the failed frame and everything behind it survive for the next flush
	first.drop()
	require.Equal(t, "f2", recvFrame(t, second, time.Second).Event)
	require.Equal(t, "f3", recvFrame(t, second, time.Second).Event)
	recvNoFrame(t, second, 50*time.Millisecond)
}

func TestClient_DropsMalformedInboundFrames(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	got := make(chan json.RawMessage, 1)
	c.Listen("players-online", func(data json.RawMessage) { got <- data })

	c.Connect()
	conn := d.next(t, time.Second)

	conn.in <- []byte(`{this is not json`)
	conn.push(t, "players-online", `42`)

	select {
	case data := <-got:
		require.JSONEq(t, `42`, string(data))
	case <-time.After(time.Second):
		t.Fatalf("read loop did not survive the malformed frame")
	}
}

func TestClient_ReconnectWithLobbiesAndRoom(t *testing.T) {
	d := newFakeDialer()
	c := New(Config{
		Dial:              d.dial,
		Retry:             ConstantDelay(10 * time.Millisecond),
		FlushDelay:        5 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		RejoinInterval:    time.Hour,
	})
	t.Cleanup(c.Close)

	online := make(chan struct{}, 8)
	c.Listen(EventOnline, func(json.RawMessage) { online <- struct{}{} })

	c.JoinLobby("widget-a", "match", "1")
	c.JoinLobby("widget-b", "team", "5")
	c.Join("presence", nil)

	c.Connect()
	conn := d.next(t, time.Second)
	recvSignal(t, online, time.Second)

	events := []string{
		recvFrame(t, conn, time.Second).Event,
		recvFrame(t, conn, time.Second).Event,
		recvFrame(t, conn, time.Second).Event,
	}
	require.Equal(t, []string{"lobby:join", "lobby:join", "presence:join"}, events)

	conn.drop()
	conn2 := d.next(t, time.Second)
	recvSignal(t, online, time.Second)

	// exactly one rejoin per lobby and room, in registry order
	events = []string{
		recvFrame(t, conn2, time.Second).Event,
		recvFrame(t, conn2, time.Second).Event,
		recvFrame(t, conn2, time.Second).Event,
	}
	require.Equal(t, []string{"lobby:join", "lobby:join", "presence:join"}, events)

	// the next frame is the restarted heartbeat, not a duplicate join
	require.Equal(t, "ping", recvFrame(t, conn2, time.Second).Event)
	// a leaked second heartbeat timer would tick right behind the first
	recvNoFrame(t, conn2, 20*time.Millisecond)

	// exactly one online emission per transition
	select {
	case <-online:
		t.Fatalf("duplicate online emission")
	default:
	}
}

func TestClient_EventSendsImmediatelyWhileConnected(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	c.Connect()
	conn := d.next(t, time.Second)

	c.Event("matchmaking:join-queue", map[string]any{"region": "na"})
	f := recvFrame(t, conn, time.Second)
	require.Equal(t, "matchmaking:join-queue", f.Event)
	require.JSONEq(t, `{"region":"na"}`, string(f.Data))
}

func TestClient_CloseStopsReconnecting(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	c.Connect()
	conn := d.next(t, time.Second)

	c.Close()
	conn.drop()

	select {
	case <-d.conns:
		t.Fatalf("closed client dialed again")
	case <-time.After(100 * time.Millisecond):
	}
}

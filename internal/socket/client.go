package socket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/5stackgg/realtime/pkg/types"
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Local lifecycle events emitted on the dispatcher. Collaborators listen for
// these to refresh their own state around reconnects.
const (
	EventOnline  = "online"
	EventOffline = "offline"
)

// Client owns the persistent socket connection and everything multiplexed
// over it: the offline queue, the room registry, the lobby map, and the event
// hub. Construct one per process with New and inject it where needed.
type Client struct {
	cfg Config
	log *zap.Logger

	dispatch *dispatcher

	mu      sync.Mutex
	state   State
	conn    Conn
	gen     int                // connection generation; stale callbacks check it and bail
	cancel  context.CancelFunc // stops the current connection's read loop and heartbeat
	attempt int
	queue   offlineQueue
	rooms   *roomSet
	lobbies map[string]*lobby
	closed  bool
}

func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:      cfg,
		log:      cfg.Logger,
		dispatch: newDispatcher(),
		rooms:    newRoomSet(),
		lobbies:  make(map[string]*lobby),
	}
}

// Connect starts the connection loop and returns immediately. The client
// dials in the background and keeps retrying for as long as it lives; link
// loss surfaces only as "offline"/"online" events, never as an error.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()
	go c.dial()
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the client down: no further reconnects, all room timers
// cancelled, the connection closed. Collaborators keep their bindings; a
// closed client never emits again.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = Disconnected
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	c.rooms.stopTimers()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Event sends a frame when connected and queues it otherwise. This is the
// sole write path; rooms, lobbies, chat, and the heartbeat all go through it.
func (c *Client) Event(event string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(event, data)
}

// Listen binds cb to a named server event. A second Listen for the same name
// is a no-op returning an inert handle; Stop on the original handle releases
// the name again.
func (c *Client) Listen(event string, cb Handler) *Subscription {
	return c.dispatch.listen(event, cb)
}

// Join registers intended membership in a room and sends "{room}:join" when
// connected. Membership is replayed on every reconnect and re-sent every
// RejoinInterval so it never silently lapses server-side.
func (c *Client) Join(room string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinLocked(room, room+":join", data)
}

func (c *Client) joinLocked(room, event string, data any) {
	if c.closed {
		return
	}
	e := c.rooms.put(room, event, data)
	if c.state == Connected {
		c.writeLocked(event, data)
	}
	c.armRejoinLocked(e)
}

// armRejoinLocked replaces a room's rejoin timer: cancel-and-replace, at most
// one live timer chain per room. Stop is a no-op on a timer that has already
// fired, so the generation stamp is what keeps that in-flight callback from
// re-arming a second chain once it gets the lock.
func (c *Client) armRejoinLocked(e *roomEntry) {
	if e.rejoin != nil {
		e.rejoin.Stop()
	}
	e.timerGen++
	gen := e.timerGen
	e.rejoin = time.AfterFunc(c.cfg.RejoinInterval, func() { c.rejoin(e, gen) })
}

// rejoin re-sends a room's join on timer expiry and re-arms the timer. Fires
// only while its entry is still registered and its generation is current;
// sends only while connected.
func (c *Client) rejoin(e *roomEntry, gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	cur, ok := c.rooms.get(e.name)
	if !ok || cur != e || e.timerGen != gen {
		return
	}
	if c.state == Connected {
		c.writeLocked(e.event, e.data)
	}
	c.armRejoinLocked(e)
}

// Leave removes a room from the registry, cancels its rejoin timer, and sends
// the terminal "lobby:leave" frame. Leaving a room that was never joined (or
// already left) is a no-op; UI unmount ordering is not guaranteed.
func (c *Client) Leave(room, lobbyType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rooms.remove(room) {
		return
	}
	c.sendLocked("lobby:leave", types.LobbyRef{ID: id, Type: lobbyType})
}

// Chat sends a lobby chat line. Independent of the lobby join lifecycle: it
// rides the normal send/queue path and works before the local lobby exists.
func (c *Client) Chat(lobbyType, id, message string) {
	c.Event("lobby:chat", types.ChatMessage{ID: id, Type: lobbyType, Message: message})
}

func (c *Client) sendLocked(event string, data any) {
	if c.state != Connected {
		c.queue.push(types.Frame{Event: event, Data: data})
		return
	}
	c.writeLocked(event, data)
}

// writeLocked serializes and writes one frame on the live connection. The
// client lock is what serializes wire order. Send failures are logged and
// dropped; re-issuing is the caller's concern.
func (c *Client) writeLocked(event string, data any) error {
	b, err := types.Encode(event, data)
	if err != nil {
		c.log.Warn("failed to encode frame", zap.String("event", event), zap.Error(err))
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, b); err != nil {
		c.log.Warn("failed to write frame", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) dial() {
	conn, err := c.cfg.Dial(context.Background())
	if err != nil {
		c.log.Warn("dial failed", zap.Error(err))
		c.scheduleReconnect()
		return
	}
	c.onOpen(conn)
}

func (c *Client) onOpen(conn Conn) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.cancel = cancel
	c.state = Connected
	c.attempt = 0
	// Snapshot the registry at the moment of open: "online" handlers may
	// join or leave rooms, and those calls send for themselves.
	joins := c.rooms.snapshot()
	c.mu.Unlock()

	c.log.Info("connected")
	c.dispatch.emit(EventOnline, nil)

	go c.readLoop(ctx, conn, gen)
	go c.heartbeat(ctx, gen)

	c.mu.Lock()
	if gen == c.gen && c.state == Connected {
		for _, j := range joins {
			c.writeLocked(j.event, j.data)
		}
	}
	c.mu.Unlock()

	time.AfterFunc(c.cfg.FlushDelay, func() { c.flush(gen) })
}

func (c *Client) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.onClose(gen, err)
			return
		}
		f, err := types.Decode(data)
		if err != nil || f.Event == "" {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch.emit(f.Event, f.Data)
	}
}

// heartbeat pings at a fixed interval for the lifetime of one connection. The
// generation check keeps a late tick from a dying connection off the queue.
func (c *Client) heartbeat(ctx context.Context, gen int) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if gen == c.gen && c.state == Connected {
				c.writeLocked("ping", nil)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) onClose(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.log.Warn("connection lost", zap.Error(err))
	c.dispatch.emit(EventOffline, nil)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	time.AfterFunc(c.cfg.Retry(attempt), func() {
		c.mu.Lock()
		if c.closed || c.state != Disconnected {
			c.mu.Unlock()
			return
		}
		c.state = Connecting
		c.mu.Unlock()
		c.dial()
	})
}

// flush drains the offline queue front to back. It holds the client lock for
// the whole drain, so everything queued before the flush began reaches the
// wire before any Event call issued after it. An entry leaves the queue only
// once its write returns clean; a failure stops the drain and the rest,
// failed frame included, waits for the next connection's flush.
func (c *Client) flush(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != Connected {
		return
	}
	for {
		f, ok := c.queue.peek()
		if !ok {
			return
		}
		if err := c.writeLocked(f.Event, f.Data); err != nil {
			return
		}
		c.queue.pop()
	}
}

package socket

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/5stackgg/realtime/pkg/types"
)

// lobby is the shared state behind one logical lobby: which local consumers
// currently care about it, the last known message history, and the scoped
// event bindings feeding it. Created lazily on first join, destroyed exactly
// when the instance set empties.
type lobby struct {
	id        string // "type:id"
	lobbyType string
	key       string
	instances map[string]struct{}
	messages  []json.RawMessage
	callbacks map[string]Handler
	subs      []*Subscription
}

// Lobby is one consumer's handle on a shared lobby. Every UI widget gets its
// own handle; the network sees a single join/leave regardless of how many
// handles are open.
type Lobby struct {
	c        *Client
	l        *lobby
	instance string
	left     bool
}

// JoinLobby attaches instance to the lobby identified by lobbyType and id,
// creating the shared subscription on first use. Joining an already-open
// lobby produces no network traffic.
func (c *Client) JoinLobby(instance, lobbyType, id string) *Lobby {
	lobbyID := lobbyType + ":" + id

	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.lobbies[lobbyID]; ok {
		l.instances[instance] = struct{}{}
		return &Lobby{c: c, l: l, instance: instance}
	}

	l := &lobby{
		id:        lobbyID,
		lobbyType: lobbyType,
		key:       id,
		instances: map[string]struct{}{instance: {}},
		callbacks: make(map[string]Handler),
	}
	for _, name := range []string{"list", "joined", "left"} {
		event := name
		l.subs = append(l.subs, c.dispatch.bind("lobby:"+lobbyID+":"+event, func(data json.RawMessage) {
			l.invoke(c, event, data)
		}))
	}
	l.subs = append(l.subs, c.dispatch.bind("lobby:"+lobbyID+":messages", func(data json.RawMessage) {
		l.sinkMessages(c, data)
	}))
	c.lobbies[lobbyID] = l

	// One registry entry per lobby so each replays independently on
	// reconnect; the join frame itself is the shared "lobby:join".
	c.joinLocked("lobby:"+lobbyID, "lobby:join", types.LobbyRef{ID: id, Type: lobbyType})

	return &Lobby{c: c, l: l, instance: instance}
}

// invoke runs the registered callback for a scoped event, if any.
func (l *lobby) invoke(c *Client, event string, data json.RawMessage) {
	c.mu.Lock()
	cb := l.callbacks[event]
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// sinkMessages replaces the local history with the server's ordered list,
// then runs the messages callback if one is registered.
func (l *lobby) sinkMessages(c *Client, data json.RawMessage) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		c.log.Warn("dropping malformed lobby history", zap.String("lobby", l.id), zap.Error(err))
		return
	}
	c.mu.Lock()
	l.messages = items
	c.mu.Unlock()
	l.invoke(c, "messages", data)
}

// On sets the callback for a scoped lobby event (list, joined, left,
// messages). One callback per event name; the last writer wins.
func (h *Lobby) On(event string, cb Handler) {
	h.c.mu.Lock()
	h.l.callbacks[event] = cb
	h.c.mu.Unlock()
}

// Messages returns the last known ordered history for the lobby.
func (h *Lobby) Messages() []json.RawMessage {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return append([]json.RawMessage(nil), h.l.messages...)
}

// Leave detaches this handle's instance. The shared lobby, its listeners, and
// its network membership are torn down only when the last instance detaches;
// repeat calls on the same handle do nothing.
func (h *Lobby) Leave() {
	c := h.c

	c.mu.Lock()
	if h.left {
		c.mu.Unlock()
		return
	}
	h.left = true
	l := h.l
	if c.lobbies[l.id] != l {
		// already torn down by another handle
		c.mu.Unlock()
		return
	}
	delete(l.instances, h.instance)
	if len(l.instances) > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.lobbies, l.id)
	subs := l.subs
	l.subs = nil
	// registry removal and the terminal frame stay inside this critical
	// section: a concurrent JoinLobby for the same lobby must not have its
	// fresh registry entry swept away by this teardown
	if c.rooms.remove("lobby:" + l.id) {
		c.sendLocked("lobby:leave", types.LobbyRef{ID: l.key, Type: l.lobbyType})
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
}

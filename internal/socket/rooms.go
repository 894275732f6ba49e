package socket

import "time"

// roomEntry records intended membership in one server-side room. The server
// silently expires idle memberships, so each entry owns a timer that
// periodically re-sends the join while the room stays registered.
type roomEntry struct {
	name     string
	event    string // join frame event, usually "{room}:join"
	data     any    // last join payload, replayed on reconnect and rejoin
	rejoin   *time.Timer
	timerGen int // bumped on every re-arm; fired callbacks with a stale gen bail
}

// roomSet is the registry of desired room memberships, iterated in insertion
// order. It is the single source of truth for what should be joined right now.
type roomSet struct {
	order   []string
	entries map[string]*roomEntry
}

func newRoomSet() *roomSet {
	return &roomSet{entries: make(map[string]*roomEntry)}
}

// put upserts a room, keeping its original position when it already exists.
func (r *roomSet) put(name, event string, data any) *roomEntry {
	if e, ok := r.entries[name]; ok {
		e.event = event
		e.data = data
		return e
	}
	e := &roomEntry{name: name, event: event, data: data}
	r.entries[name] = e
	r.order = append(r.order, name)
	return e
}

func (r *roomSet) get(name string) (*roomEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// remove deletes a room and stops its rejoin timer. Reports whether the room
// was present.
func (r *roomSet) remove(name string) bool {
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	if e.rejoin != nil {
		e.rejoin.Stop()
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// roomJoin is a value copy of one entry's join frame.
type roomJoin struct {
	event string
	data  any
}

// snapshot copies the pending joins in registry order. The reconnect replay
// walks the copy, so joins and leaves issued by event handlers while the walk
// is in flight cannot invalidate it.
func (r *roomSet) snapshot() []roomJoin {
	out := make([]roomJoin, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, roomJoin{event: e.event, data: e.data})
	}
	return out
}

func (r *roomSet) stopTimers() {
	for _, e := range r.entries {
		if e.rejoin != nil {
			e.rejoin.Stop()
		}
	}
}

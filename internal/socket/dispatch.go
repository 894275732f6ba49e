package socket

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of an inbound frame.
type Handler func(data json.RawMessage)

// Subscription is a handle on one event binding. Stop releases it.
type Subscription struct {
	d    *dispatcher
	name string
	id   int
}

func (s *Subscription) Stop() {
	if s == nil || s.d == nil {
		return
	}
	s.d.unbind(s.name, s.id)
}

// dispatcher is the client's pub/sub hub. Named listens are de-duplicated so
// independent call sites listening for the same global event (e.g. presence
// updates consumed by more than one store) end up with a single binding;
// lobby-scoped bindings skip that check.
type dispatcher struct {
	mu        sync.Mutex
	seq       int
	bindings  map[string]map[int]Handler
	listening map[string]int // event name -> binding id, at most one per name
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		bindings:  make(map[string]map[int]Handler),
		listening: make(map[string]int),
	}
}

// listen binds cb under name unless a named binding already exists; the
// duplicate call is a no-op and gets an inert handle back.
func (d *dispatcher) listen(name string, cb Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.listening[name]; ok {
		return &Subscription{}
	}
	id := d.bindLocked(name, cb)
	d.listening[name] = id
	return &Subscription{d: d, name: name, id: id}
}

// bind registers a scoped binding with no de-duplication. Lobby listeners use
// this; their event names embed the lobby id so they never collide.
func (d *dispatcher) bind(name string, cb Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.bindLocked(name, cb)
	return &Subscription{d: d, name: name, id: id}
}

func (d *dispatcher) bindLocked(name string, cb Handler) int {
	d.seq++
	m := d.bindings[name]
	if m == nil {
		m = make(map[int]Handler)
		d.bindings[name] = m
	}
	m[d.seq] = cb
	return d.seq
}

func (d *dispatcher) unbind(name string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m := d.bindings[name]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(d.bindings, name)
		}
	}
	if d.listening[name] == id {
		delete(d.listening, name)
	}
}

// emit invokes every binding for name. Handlers run synchronously so frame
// order is preserved for consumers; they must not block.
func (d *dispatcher) emit(name string, data json.RawMessage) {
	d.mu.Lock()
	handlers := make([]Handler, 0, len(d.bindings[name]))
	for _, h := range d.bindings[name] {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

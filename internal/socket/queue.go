package socket

import "github.com/5stackgg/realtime/pkg/types"

// offlineQueue buffers outbound frames while the connection is down. Strict
// FIFO, unbounded, in-memory only; callers synchronize through the client
// lock.
type offlineQueue struct {
	frames []types.Frame
}

func (q *offlineQueue) push(f types.Frame) {
	q.frames = append(q.frames, f)
}

// peek returns the oldest frame without removing it.
func (q *offlineQueue) peek() (types.Frame, bool) {
	if len(q.frames) == 0 {
		return types.Frame{}, false
	}
	return q.frames[0], true
}

// pop removes and returns the oldest frame.
func (q *offlineQueue) pop() (types.Frame, bool) {
	if len(q.frames) == 0 {
		return types.Frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

func (q *offlineQueue) len() int { return len(q.frames) }

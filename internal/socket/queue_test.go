package socket

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/5stackgg/realtime/pkg/types"
)

func TestOfflineQueue_FIFO(t *testing.T) {
	var q offlineQueue
	q.push(types.Frame{Event: "f1"})
	q.push(types.Frame{Event: "f2"})
	q.push(types.Frame{Event: "f3"})
	require.Equal(t, 3, q.len())

	for _, want := range []string{"f1", "f2", "f3"} {
		// peek never consumes
		f, ok := q.peek()
		require.True(t, ok)
		require.Equal(t, want, f.Event)

		f, ok = q.pop()
		require.True(t, ok)
		require.Equal(t, want, f.Event)
	}

	_, ok := q.pop()
	require.False(t, ok)
	require.Equal(t, 0, q.len())
}

package socket

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Conn is the minimal surface the client needs from a duplex connection.
// Production connections wrap *websocket.Conn; tests substitute in-memory
// pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc performs one connection attempt.
type DialFunc func(ctx context.Context) (Conn, error)

type Config struct {
	// URL is the websocket endpoint. Ignored when Dial is set.
	URL string

	// Dial overrides the websocket dialer.
	Dial DialFunc

	// Retry schedules reconnect attempts. Defaults to ConstantDelay(1s).
	Retry RetryPolicy

	// HeartbeatInterval is the ping period while connected. Default 15s.
	HeartbeatInterval time.Duration

	// FlushDelay is the settle delay between connecting and draining the
	// offline queue. Default 100ms.
	FlushDelay time.Duration

	// RejoinInterval is the per-room keep-alive re-join period. Default 12h.
	RejoinInterval time.Duration

	// WriteTimeout bounds a single frame write. Default 3s.
	WriteTimeout time.Duration

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.Dial == nil {
		c.Dial = wsDial(c.URL)
	}
	if c.Retry == nil {
		c.Retry = ConstantDelay(time.Second)
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.FlushDelay == 0 {
		c.FlushDelay = 100 * time.Millisecond
	}
	if c.RejoinInterval == 0 {
		c.RejoinInterval = 12 * time.Hour
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "bye")
}

func wsDial(url string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{conn: conn}, nil
	}
}

// Package devserver is a stub realtime backend for local development and
// integration tests: it answers joins with lobby history, fans chat back out
// as history frames, and reports the online count.
package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/5stackgg/realtime/pkg/types"
)

type Server struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	history map[string][]json.RawMessage // lobbyID -> chat items
}

type client struct {
	conn *websocket.Conn
}

func New(log *zap.Logger) *Server {
	return &Server{
		log:     log,
		clients: make(map[*client]struct{}),
		history: make(map[string][]json.RawMessage),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	cl := &client{conn: conn}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.broadcast("players-online", n)

	defer func() {
		s.mu.Lock()
		delete(s.clients, cl)
		n := len(s.clients)
		s.mu.Unlock()
		s.broadcast("players-online", n)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		f, err := types.Decode(data)
		if err != nil {
			s.log.Warn("bad frame", zap.Error(err))
			continue
		}
		s.handleFrame(cl, f)
	}
}

func (s *Server) handleFrame(cl *client, f types.InboundFrame) {
	switch f.Event {
	case "ping":
		// keep-alive only

	case "lobby:join":
		var ref types.LobbyRef
		if json.Unmarshal(f.Data, &ref) != nil {
			return
		}
		lobbyID := ref.Type + ":" + ref.ID
		s.mu.Lock()
		history := append([]json.RawMessage(nil), s.history[lobbyID]...)
		s.mu.Unlock()
		s.send(cl, "lobby:"+lobbyID+":messages", history)
		s.broadcast("lobby:"+lobbyID+":joined", ref)

	case "lobby:leave":
		var ref types.LobbyRef
		if json.Unmarshal(f.Data, &ref) != nil {
			return
		}
		s.broadcast("lobby:"+ref.Type+":"+ref.ID+":left", ref)

	case "lobby:chat":
		var msg types.ChatMessage
		if json.Unmarshal(f.Data, &msg) != nil {
			return
		}
		raw, err := json.Marshal(msg)
		if err != nil {
			return
		}
		lobbyID := msg.Type + ":" + msg.ID
		s.mu.Lock()
		s.history[lobbyID] = append(s.history[lobbyID], raw)
		history := append([]json.RawMessage(nil), s.history[lobbyID]...)
		s.mu.Unlock()
		s.broadcast("lobby:"+lobbyID+":messages", history)
	}
}

func (s *Server) send(cl *client, event string, data any) {
	b, err := types.Encode(event, data)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = cl.conn.Write(ctx, websocket.MessageText, b)
}

func (s *Server) broadcast(event string, data any) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.mu.Unlock()

	for _, cl := range clients {
		s.send(cl, event, data)
	}
}

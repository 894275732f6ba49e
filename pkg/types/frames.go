package types

import "encoding/json"

// Client -> Server
// ping: {}
// {room}:join:   payload registered for the room (lobbies send {id, type})
// lobby:leave:   { id, type }
// lobby:chat:    { id, type, message }
//
// Server -> Client
// players-online:            number
// matchmaking:region-stats:  per-region queue depths
// matchmaking:details:       queue membership details
// lobby:{lobbyId}:list:      current member roster
// lobby:{lobbyId}:joined:    member joined
// lobby:{lobbyId}:left:      member left
// lobby:{lobbyId}:messages:  chat/history items

// Frame is the outbound wire message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundFrame keeps Data raw so consumers decode their own payload shapes.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LobbyRef identifies a lobby in join/leave/chat payloads.
type LobbyRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ChatMessage is the lobby:chat payload.
type ChatMessage struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

func Decode(b []byte) (InboundFrame, error) {
	var f InboundFrame
	err := json.Unmarshal(b, &f)
	return f, err
}

package gateway

import (
	"encoding/json"
)

// Event names on the wire.
const (
	EventGetOnlineUsers = "getOnlineUsers"
	EventNewMessage     = "newMessage"
	EventError          = "error"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

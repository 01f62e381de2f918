// Package model holds the data types shared by the socket engine, the
// dispatcher, and the trigger client.
package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Guliveer/pusher-go/internal/constants"
)

// Event is an inbound message routed to bindings. Data is the payload text:
// payloads sent as JSON strings are unquoted, object payloads are kept as
// their raw JSON.
type Event struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// IsProtocol reports whether the event was produced by the service rather
// than published by an application.
func (e Event) IsProtocol() bool {
	return strings.HasPrefix(e.Event, constants.ProtocolEventPrefix) ||
		strings.HasPrefix(e.Event, constants.InternalEventPrefix)
}

// Unmarshal decodes Data as JSON into v.
func (e Event) Unmarshal(v any) error {
	return json.Unmarshal([]byte(e.Data), v)
}

// DataText turns the raw data field of a frame into payload text.
func DataText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// BatchEvent is one entry of a batch trigger request. Data is the final
// wire payload for the entry; SocketID excludes a connection from receiving it.
type BatchEvent struct {
	Channel  string `json:"channel"`
	Event    string `json:"name"`
	Data     string `json:"data"`
	SocketID string `json:"socket_id,omitempty"`
}

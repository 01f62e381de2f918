// Package socket implements the persistent connection to the channel
// service: the connection state machine, handshake, subscription registry
// with replay after reconnect, keepalive, and reconnection with exponential
// backoff.
package socket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Guliveer/pusher-go/internal/constants"
)

// Frame is the JSON envelope of every socket message in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
}

// SubscribeData is the payload of pusher:subscribe.
type SubscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribeData is the payload of pusher:unsubscribe.
type UnsubscribeData struct {
	Channel string `json:"channel"`
}

// ConnectionEstablished is the payload of pusher:connection_established.
// ActivityTimeout is in seconds.
type ConnectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// ErrorData is the payload of pusher:error. Code is absent for some errors.
type ErrorData struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

// ProtocolError is a pusher:error received from the service.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// CloseError is a close frame received from the service.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed with status %d: %s", e.Code, e.Reason)
}

// encodeFrame marshals an outbound frame with data as a JSON object.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s data: %w", event, err)
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s frame: %w", event, err)
	}
	return out, nil
}

// decodeData unmarshals a frame's data field, which the service sends either
// as an object or as a JSON-encoded string holding the object.
func decodeData(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = []byte(inner)
	}
	return json.Unmarshal(raw, v)
}

// reconnectPolicy says what the engine does after a service error code.
type reconnectPolicy int

const (
	policyBackoff reconnectPolicy = iota
	policyImmediate
	policyFatal
)

func policyForCode(code int) reconnectPolicy {
	switch {
	case code >= constants.ErrorCodeFatalMin && code <= constants.ErrorCodeFatalMax:
		return policyFatal
	case code >= constants.ErrorCodeReconnectNowMin && code <= constants.ErrorCodeReconnectNowMax:
		return policyImmediate
	case code >= constants.ErrorCodeReconnectMin && code <= constants.ErrorCodeReconnectMax:
		return policyBackoff
	default:
		return policyBackoff
	}
}

// closesConnection reports whether a pusher:error code ends the session.
// Codes outside 4000-4299 (e.g. client event rate limits) are informational.
func closesConnection(code int) bool {
	return code >= constants.ErrorCodeFatalMin && code <= constants.ErrorCodeReconnectNowMax
}

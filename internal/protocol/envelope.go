// Package protocol defines the wire format shared by the signaling server and clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single frame shape on the signaling transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client -> server events.
const (
	EventFindMatch    = "find-match"
	EventCancelSearch = "cancel-search"
	EventLeaveRoom    = "leave-room"
	EventLeaveCall    = "leave-call"
	EventPing         = "ping"
)

// Server -> client events.
const (
	EventMatched          = "matched"
	EventMatchFound       = "match-found"
	EventUserDisconnected = "user-disconnected"
	EventPartnerLeft      = "partner-left"
	EventOnlineUsers      = "onlineUsers"
	EventSearching        = "searching"
	EventSearchCanceled   = "search-canceled"
	EventCallEnded        = "call-ended"
	EventError            = "error"
	EventPong             = "pong"
)

// Relayed in both directions.
const (
	EventChatMessage  = "chat-message"
	EventTyping       = "typing"
	EventOffer        = "webrtc-offer"
	EventAnswer       = "webrtc-answer"
	EventICECandidate = "webrtc-ice-candidate"
)

// AuthFailedMessage is the error text sent before the server drops an unauthorized connection.
const AuthFailedMessage = "Auth failed"

// New builds an envelope, marshaling data when it is not nil.
func New(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	env.Data = b
	return env, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(event string, data any) Envelope {
	env, err := New(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals Data into v. An empty payload decodes into the zero value.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return nil
}

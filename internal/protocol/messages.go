// Package protocol defines the WebSocket message types and structures used for
// communication between the mobile client and the relay server. All messages
// are serialized as JSON and follow a consistent envelope format with a type
// discriminator. Event names are camelCase because they are the wire contract
// consumed by the existing mobile client.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister    = "register"
	TypeSendMessage = "sendMessage"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeRegistered     = "registered"
	TypeReceiveMessage = "receiveMessage"
	TypeMessageBlocked = "messageBlocked"
	TypeUserBlocked    = "userBlocked"
	TypeUserReported   = "userReported"
	TypeKYCVerified    = "kycVerified"
	TypeRateLimited    = "rateLimited"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// UserID — flexible identifier decoding
// ---------------------------------------------------------------------------

// UserID is a user identifier on the wire. Clients send ids both as JSON
// strings and as numbers (the mobile app is inconsistent here), so the
// decoder accepts either and coerces to a string exactly once, at parse
// time. Everything past the protocol layer deals in strings only.
type UserID string

// UnmarshalJSON implements json.Unmarshaler, accepting both `"42"` and `42`.
func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("protocol: invalid user id: %w", err)
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: invalid user id: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// String returns the coerced string form of the id.
func (u UserID) String() string { return string(u) }

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RegisterMsg associates the connection with a user identity. Until a
// connection registers, it receives nothing.
type RegisterMsg struct {
	Type   string `json:"type"`
	UserID UserID `json:"userId"`
}

// SendMessageMsg is an inbound chat message. Only the two participant ids
// are decoded; the full original payload is retained in Raw so the relay can
// forward it verbatim, extra fields included.
type SendMessageMsg struct {
	Type       string          `json:"type"`
	SenderID   UserID          `json:"senderId"`
	ReceiverID UserID          `json:"receiverId"`
	Raw        json.RawMessage `json:"-"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// RegisteredMsg confirms registration back to the client.
type RegisteredMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// MessageBlockedMsg tells the sender their message was not delivered because
// of a block record. The original payload rides along so the client can
// retract its optimistic UI state.
type MessageBlockedMsg struct {
	Type   string          `json:"type"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

// UserBlockedMsg announces that userId has blocked targetId. Sent to both
// parties' channels by the block controller.
type UserBlockedMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	TargetID string `json:"targetId"`
}

// UserReportedMsg announces that reporterId has reported targetId. Sent to
// both parties' channels by the report controller.
type UserReportedMsg struct {
	Type       string `json:"type"`
	ReporterID string `json:"reporterId"`
	TargetID   string `json:"targetId"`
}

// KYCVerifiedMsg announces the outcome of a KYC review to the affected user.
// User carries the updated profile object as provided by the profile
// service; the relay treats it as opaque.
type KYCVerifiedMsg struct {
	Type   string          `json:"type"`
	UserID string          `json:"userId"`
	Status string          `json:"status"`
	User   json.RawMessage `json:"user,omitempty"`
}

// RateLimitedMsg tells the sender they are sending too fast.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		m.Raw = env.Raw
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the *Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	return injectType(msgType, raw)
}

// NewServerMessageRaw builds a server message from an already-encoded JSON
// object, preserving every field the client sent. The relay uses this to
// forward chat payloads verbatim under the receiveMessage type.
func NewServerMessageRaw(msgType string, raw json.RawMessage) ([]byte, error) {
	return injectType(msgType, raw)
}

// injectType sets the "type" key on a JSON object and re-encodes it.
func injectType(msgType string, raw json.RawMessage) ([]byte, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

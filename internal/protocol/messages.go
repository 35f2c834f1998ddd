// Package protocol defines the WebSocket envelope types exchanged between
// chat clients (visitors, agents) and the routing server. All envelopes are
// serialized as JSON with a "type" discriminator; server-to-client envelopes
// additionally wrap their payload in a "data" object.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeChatMessage = "chat_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeJoinChat    = "join_chat"
	TypeLeaveChat   = "leave_chat"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeNewMessage   = "new_message"
	TypeTypingStatus = "typing_status"
	TypeUserStatus   = "user_status"
	TypeJoinedChat   = "joined_chat"
	TypeLeftChat     = "left_chat"
	TypeError        = "error"
	TypePong         = "pong"
)

// User types carried in the connection handshake and echoed in envelopes.
const (
	UserTypeAgent    = "agent"
	UserTypeCustomer = "customer"
)

// Presence status values for user_status envelopes.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultMessageType is assumed when a chat_message omits messageType.
const DefaultMessageType = "text"

// ValidUserType reports whether t is one of the recognized handshake user
// types.
func ValidUserType(t string) bool {
	return t == UserTypeAgent || t == UserTypeCustomer
}

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

// ChatMessageMsg is a chat message sent by a client into a chat session.
// MessageID is client-assigned so the sender can correlate delivery.
type ChatMessageMsg struct {
	Type          string `json:"type"`
	ChatSessionID string `json:"chatSessionId"`
	MessageID     string `json:"messageId"`
	Content       string `json:"content"`
	MessageType   string `json:"messageType"`
}

// TypingStartMsg signals that the client started typing in a session.
type TypingStartMsg struct {
	Type          string `json:"type"`
	ChatSessionID string `json:"chatSessionId"`
}

// TypingStopMsg signals that the client stopped typing in a session.
type TypingStopMsg struct {
	Type          string `json:"type"`
	ChatSessionID string `json:"chatSessionId"`
}

// JoinChatMsg attaches the sending connection to a chat session.
type JoinChatMsg struct {
	Type          string `json:"type"`
	ChatSessionID string `json:"chatSessionId"`
}

// LeaveChatMsg detaches the sending connection from a chat session.
type LeaveChatMsg struct {
	Type          string `json:"type"`
	ChatSessionID string `json:"chatSessionId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client payload structs (wrapped under "data")
// ---------------------------------------------------------------------------

// ConnectedData acknowledges a successful handshake. SessionID is the
// connection id assigned by the registry, not a chat session id.
type ConnectedData struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserType  string `json:"userType"`
	Timestamp string `json:"timestamp"`
}

// NewMessageData is a chat message relayed to the members of a session.
type NewMessageData struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	SenderID    string `json:"senderId"`
	SenderType  string `json:"senderType"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   string `json:"timestamp"`
}

// TypingStatusData relays a participant's typing indicator. The indicator is
// ephemeral: there is no durability or retry, and consumers are expected to
// expire a stale isTyping=true on their own.
type TypingStatusData struct {
	UserID        string `json:"userId"`
	UserType      string `json:"userType"`
	IsTyping      bool   `json:"isTyping"`
	ChatSessionID string `json:"chatSessionId"`
	Timestamp     string `json:"timestamp"`
}

// UserStatusData announces a user's aggregate online/offline transition.
type UserStatusData struct {
	UserID    string `json:"userId"`
	UserType  string `json:"userType"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// JoinedChatData acknowledges a join_chat to the joining connection only.
type JoinedChatData struct {
	ChatSessionID string `json:"chatSessionId"`
	Timestamp     string `json:"timestamp"`
}

// LeftChatData acknowledges a leave_chat to the leaving connection only.
type LeftChatData struct {
	ChatSessionID string `json:"chatSessionId"`
	Timestamp     string `json:"timestamp"`
}

// ErrorData carries a recoverable error back to the offending connection.
type ErrorData struct {
	Message string `json:"message"`
}

// PongData is the server's response to a client ping.
type PongData struct {
	Timestamp string `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// Timestamp returns the server timestamp stamped on outbound envelopes:
// ISO-8601 / RFC 3339 in UTC.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

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
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		if m.MessageType == "" {
			m.MessageType = DefaultMessageType
		}
		msg = m
	case TypeTypingStart:
		var m TypingStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStop:
		var m TypingStopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
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

// serverEnvelope is the uniform server-to-client wire shape.
type serverEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServerMessage creates a JSON-encoded server envelope of the form
// {"type": msgType, "data": payload}. The payload should be one of the
// *Data structs above.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	out, err := json.Marshal(serverEnvelope{Type: msgType, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q envelope: %w", msgType, err)
	}
	return out, nil
}

package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat_message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMessage(t *testing.T) {
	input := []byte(`{"type":"chat_message","chatSessionId":"sess-1","messageId":"m-1","content":"Hello!","messageType":"text"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChatMessage {
		t.Fatalf("expected type %q, got %q", TypeChatMessage, msgType)
	}

	cm, ok := msg.(ChatMessageMsg)
	if !ok {
		t.Fatalf("expected ChatMessageMsg, got %T", msg)
	}
	if cm.ChatSessionID != "sess-1" {
		t.Errorf("expected chatSessionId %q, got %q", "sess-1", cm.ChatSessionID)
	}
	if cm.MessageID != "m-1" {
		t.Errorf("expected messageId %q, got %q", "m-1", cm.MessageID)
	}
	if cm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", cm.Content)
	}
	if cm.MessageType != "text" {
		t.Errorf("expected messageType %q, got %q", "text", cm.MessageType)
	}
}

// ---------------------------------------------------------------------------
// Test: chat_message without messageType defaults to "text"
// ---------------------------------------------------------------------------

func TestParseClientMessage_DefaultMessageType(t *testing.T) {
	input := []byte(`{"type":"chat_message","chatSessionId":"sess-1","messageId":"m-2","content":"hi"}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cm, ok := msg.(ChatMessageMsg)
	if !ok {
		t.Fatalf("expected ChatMessageMsg, got %T", msg)
	}
	if cm.MessageType != DefaultMessageType {
		t.Errorf("expected default messageType %q, got %q", DefaultMessageType, cm.MessageType)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a join_chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinChat(t *testing.T) {
	input := []byte(`{"type":"join_chat","chatSessionId":"sess-9"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinChat {
		t.Fatalf("expected type %q, got %q", TypeJoinChat, msgType)
	}

	jm, ok := msg.(JoinChatMsg)
	if !ok {
		t.Fatalf("expected JoinChatMsg, got %T", msg)
	}
	if jm.ChatSessionID != "sess-9" {
		t.Errorf("expected chatSessionId %q, got %q", "sess-9", jm.ChatSessionID)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a new_message server envelope
// ---------------------------------------------------------------------------

func TestNewServerMessage_NewMessage(t *testing.T) {
	payload := NewMessageData{
		ID:          "m-1",
		SessionID:   "sess-1",
		SenderID:    "agent-7",
		SenderType:  UserTypeAgent,
		Content:     "How can I help?",
		MessageType: "text",
		Timestamp:   "2026-08-31T12:00:00Z",
	}

	data, err := NewServerMessage(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify the {"type","data"} shape.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, result["type"])
	}

	inner, ok := result["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data to be an object, got %T", result["data"])
	}
	if inner["id"] != "m-1" {
		t.Errorf("expected id %q, got %v", "m-1", inner["id"])
	}
	if inner["sessionId"] != "sess-1" {
		t.Errorf("expected sessionId %q, got %v", "sess-1", inner["sessionId"])
	}
	if inner["senderId"] != "agent-7" {
		t.Errorf("expected senderId %q, got %v", "agent-7", inner["senderId"])
	}
	if inner["senderType"] != UserTypeAgent {
		t.Errorf("expected senderType %q, got %v", UserTypeAgent, inner["senderType"])
	}
	if inner["content"] != "How can I help?" {
		t.Errorf("unexpected content: %v", inner["content"])
	}
}

// ---------------------------------------------------------------------------
// Test: Every server payload marshals under "data"
// ---------------------------------------------------------------------------

func TestNewServerMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name    string
		msgType string
		payload interface{}
	}{
		{"connected", TypeConnected, ConnectedData{SessionID: "c1", UserID: "u1", UserType: UserTypeCustomer, Timestamp: Timestamp()}},
		{"typing_status", TypeTypingStatus, TypingStatusData{UserID: "u1", UserType: UserTypeCustomer, IsTyping: true, ChatSessionID: "s1", Timestamp: Timestamp()}},
		{"user_status", TypeUserStatus, UserStatusData{UserID: "u1", UserType: UserTypeAgent, Status: StatusOnline, Timestamp: Timestamp()}},
		{"joined_chat", TypeJoinedChat, JoinedChatData{ChatSessionID: "s1", Timestamp: Timestamp()}},
		{"left_chat", TypeLeftChat, LeftChatData{ChatSessionID: "s1", Timestamp: Timestamp()}},
		{"error", TypeError, ErrorData{Message: "boom"}},
		{"pong", TypePong, PongData{Timestamp: Timestamp()}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := NewServerMessage(tc.msgType, tc.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var result map[string]interface{}
			if err := json.Unmarshal(data, &result); err != nil {
				t.Fatalf("failed to unmarshal result: %v", err)
			}
			if result["type"] != tc.msgType {
				t.Errorf("expected type %q, got %v", tc.msgType, result["type"])
			}
			if _, ok := result["data"].(map[string]interface{}); !ok {
				t.Errorf("expected data object, got %T", result["data"])
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are rejected when sent by a client
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"new_message","data":{}}`)

	_, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for a server-only type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"content":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"chat_message", `{"type":"chat_message","chatSessionId":"s1","messageId":"m1","content":"hi"}`, TypeChatMessage},
		{"typing_start", `{"type":"typing_start","chatSessionId":"s1"}`, TypeTypingStart},
		{"typing_stop", `{"type":"typing_stop","chatSessionId":"s1"}`, TypeTypingStop},
		{"join_chat", `{"type":"join_chat","chatSessionId":"s1"}`, TypeJoinChat},
		{"leave_chat", `{"type":"leave_chat","chatSessionId":"s1"}`, TypeLeaveChat},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Handshake user type validation
// ---------------------------------------------------------------------------

func TestValidUserType(t *testing.T) {
	if !ValidUserType(UserTypeAgent) {
		t.Error("expected agent to be valid")
	}
	if !ValidUserType(UserTypeCustomer) {
		t.Error("expected customer to be valid")
	}
	if ValidUserType("admin") {
		t.Error("expected admin to be invalid")
	}
	if ValidUserType("") {
		t.Error("expected empty user type to be invalid")
	}
}

// ---------------------------------------------------------------------------
// Test: Timestamp format
// ---------------------------------------------------------------------------

func TestTimestamp_RFC3339UTC(t *testing.T) {
	ts := Timestamp()
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("timestamp %q is not RFC 3339: %v", ts, err)
	}
	if parsed.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", parsed.Location())
	}
}

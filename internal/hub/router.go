package hub

import (
	"log"

	"github.com/google/uuid"

	"github.com/helpdesk/livechat/internal/chat"
	"github.com/helpdesk/livechat/internal/metrics"
	"github.com/helpdesk/livechat/internal/protocol"
)

// This file is the session router: join/leave bookkeeping and the dispatch
// path that scopes every chat and typing envelope to the actual members of
// a chat session. Leaking one session's traffic to an unrelated connection
// is the correctness violation this layer exists to prevent.

// Join attaches a connection to a chat session's membership, creating the
// membership on first join, and acknowledges with joined_chat to that
// connection only. Joining a session twice is a no-op apart from the ack.
// Recent messages for the session are replayed to the joining connection so
// a reconnecting client's view catches up.
func (h *Hub) Join(connID, sessionID string) {
	if sessionID == "" {
		return
	}
	h.do(func() {
		c, ok := h.conns[connID]
		if !ok || !c.open {
			return
		}

		set, ok := h.members[sessionID]
		if !ok {
			set = make(map[string]*connection)
			h.members[sessionID] = set
			metrics.SessionsActive.Set(float64(len(h.members)))
		}
		if _, already := set[connID]; !already {
			set[connID] = c
			c.joined = append(c.joined, sessionID)
		}

		ack, err := protocol.NewServerMessage(protocol.TypeJoinedChat, protocol.JoinedChatData{
			ChatSessionID: sessionID,
			Timestamp:     protocol.Timestamp(),
		})
		if err != nil {
			log.Printf("hub: failed to build joined_chat conn=%s: %v", connID, err)
			return
		}
		h.deliver(c, ack)

		// Replay the recent backlog, oldest first.
		for _, msg := range h.replay.Recent(sessionID) {
			data, err := protocol.NewServerMessage(protocol.TypeNewMessage, msg)
			if err != nil {
				continue
			}
			h.deliver(c, data)
		}
	})
}

// Leave detaches a connection from a session's membership and acknowledges
// with left_chat. Leaving a session the connection is not a member of is a
// no-op apart from the ack. The membership is retained when it becomes
// empty; unused memberships die with the process.
func (h *Hub) Leave(connID, sessionID string) {
	if sessionID == "" {
		return
	}
	h.do(func() {
		c, ok := h.conns[connID]
		if !ok || !c.open {
			return
		}

		if set, ok := h.members[sessionID]; ok {
			delete(set, connID)
		}
		for i, id := range c.joined {
			if id == sessionID {
				c.joined = append(c.joined[:i], c.joined[i+1:]...)
				break
			}
		}

		ack, err := protocol.NewServerMessage(protocol.TypeLeftChat, protocol.LeftChatData{
			ChatSessionID: sessionID,
			Timestamp:     protocol.Timestamp(),
		})
		if err != nil {
			log.Printf("hub: failed to build left_chat conn=%s: %v", connID, err)
			return
		}
		h.deliver(c, ack)
	})
}

// Dispatch sends an encoded envelope to every member of a session except the
// optionally excluded connection (used to avoid echoing a sender's own
// message). A session with no membership is a valid no-op, not an error.
func (h *Hub) Dispatch(sessionID string, data []byte, excludeConnID string) {
	h.do(func() {
		h.dispatchLocked(sessionID, data, excludeConnID)
	})
}

// dispatchLocked is the fan-out path; it must only run on the hub goroutine.
func (h *Hub) dispatchLocked(sessionID string, data []byte, excludeConnID string) {
	set, ok := h.members[sessionID]
	if !ok || len(set) == 0 {
		return
	}

	n := 0
	for id, c := range set {
		if id == excludeConnID || !c.open {
			continue
		}
		h.deliver(c, data)
		n++
	}
	metrics.DispatchFanout.Observe(float64(n))
}

// HandleChatMessage validates an inbound chat_message, stamps the server
// timestamp, and fans it out to the other members of the session. Validation
// failures are reported to the sender as an error envelope; the connection
// stays open.
func (h *Hub) HandleChatMessage(connID string, msg protocol.ChatMessageMsg) {
	h.do(func() {
		c, ok := h.conns[connID]
		if !ok || !c.open {
			return
		}

		if msg.ChatSessionID == "" {
			h.sendError(c, "chat_message requires a chatSessionId")
			return
		}
		if err := chat.ValidateContent(msg.Content); err != nil {
			h.sendError(c, err.Error())
			return
		}
		if _, joined := h.members[msg.ChatSessionID]; !joined || h.members[msg.ChatSessionID][connID] == nil {
			h.sendError(c, "not joined to chat session")
			return
		}

		messageType := msg.MessageType
		if messageType == "" {
			messageType = protocol.DefaultMessageType
		}
		messageID := msg.MessageID
		if messageID == "" {
			messageID = uuid.New().String()
		}

		payload := protocol.NewMessageData{
			ID:          messageID,
			SessionID:   msg.ChatSessionID,
			SenderID:    c.userID,
			SenderType:  c.userType,
			Content:     msg.Content,
			MessageType: messageType,
			Timestamp:   protocol.Timestamp(),
		}

		data, err := protocol.NewServerMessage(protocol.TypeNewMessage, payload)
		if err != nil {
			log.Printf("hub: failed to build new_message conn=%s: %v", connID, err)
			return
		}

		h.dispatchLocked(msg.ChatSessionID, data, connID)
		h.replay.Add(msg.ChatSessionID, payload)

		if h.onHistory != nil {
			h.onHistory(msg.ChatSessionID, payload)
		}
	})
}

// HandleTyping re-dispatches a typing indicator to the other members of the
// session. Typing state is ephemeral: no buffering, no replay, no retry.
func (h *Hub) HandleTyping(connID, sessionID string, isTyping bool) {
	h.do(func() {
		c, ok := h.conns[connID]
		if !ok || !c.open {
			return
		}
		if sessionID == "" {
			h.sendError(c, "typing indicator requires a chatSessionId")
			return
		}

		data, err := protocol.NewServerMessage(protocol.TypeTypingStatus, protocol.TypingStatusData{
			UserID:        c.userID,
			UserType:      c.userType,
			IsTyping:      isTyping,
			ChatSessionID: sessionID,
			Timestamp:     protocol.Timestamp(),
		})
		if err != nil {
			log.Printf("hub: failed to build typing_status conn=%s: %v", connID, err)
			return
		}
		h.dispatchLocked(sessionID, data, connID)
	})
}

// sendError reports a recoverable condition to one connection.
func (h *Hub) sendError(c *connection, message string) {
	metrics.MessagesTotal.WithLabelValues("rejected").Inc()
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorData{
		Message: message,
	})
	if err != nil {
		log.Printf("hub: failed to build error envelope conn=%s: %v", c.id, err)
		return
	}
	h.deliver(c, data)
}

package chat

import (
	"sync"

	"github.com/helpdesk/livechat/internal/protocol"
)

// MaxBufferMessages is the number of recent messages retained per session.
// A connection that joins (or re-joins after a reconnect) gets this many
// messages replayed so its view catches up without a history query.
const MaxBufferMessages = 50

// ReplayBuffer stores the last N delivered messages per chat session in
// memory. It is goroutine-safe and uses a ring buffer internally. Contents
// are dropped with the process; durable history belongs to the archiver.
type ReplayBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // chat session id -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of message payloads.
type ringBuffer struct {
	items []protocol.NewMessageData
	pos   int
	count int
}

// NewReplayBuffer creates a new empty ReplayBuffer.
func NewReplayBuffer() *ReplayBuffer {
	return &ReplayBuffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a delivered message to the session's ring buffer. If the
// buffer is full, the oldest message is overwritten.
func (rb *ReplayBuffer) Add(sessionID string, msg protocol.NewMessageData) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	buf, ok := rb.buffers[sessionID]
	if !ok {
		buf = &ringBuffer{
			items: make([]protocol.NewMessageData, MaxBufferMessages),
		}
		rb.buffers[sessionID] = buf
	}

	buf.items[buf.pos] = msg
	buf.pos = (buf.pos + 1) % MaxBufferMessages
	if buf.count < MaxBufferMessages {
		buf.count++
	}
}

// Recent returns the buffered messages for a session in chronological order
// (oldest first). Returns an empty slice if the session has no buffer.
func (rb *ReplayBuffer) Recent(sessionID string) []protocol.NewMessageData {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	buf, ok := rb.buffers[sessionID]
	if !ok {
		return []protocol.NewMessageData{}
	}

	result := make([]protocol.NewMessageData, buf.count)
	// The oldest message is at position (pos - count) mod MaxBufferMessages.
	start := (buf.pos - buf.count + MaxBufferMessages) % MaxBufferMessages
	for i := 0; i < buf.count; i++ {
		result[i] = buf.items[(start+i)%MaxBufferMessages]
	}
	return result
}

// Remove deletes the buffer for a session.
func (rb *ReplayBuffer) Remove(sessionID string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	delete(rb.buffers, sessionID)
}

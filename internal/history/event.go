// Package history persists delivered chat messages. The routing process
// publishes one Event per delivered message on NATS; the archiver consumes
// them and writes rows into PostgreSQL. Keeping the store out of the
// routing process means a slow database can never stall dispatch.
package history

// Event is the payload published to chat.history.<session_id> for every
// chat message accepted for delivery.
type Event struct {
	MessageID   string `json:"message_id"`
	SessionID   string `json:"session_id"`
	SenderID    string `json:"sender_id"`
	SenderType  string `json:"sender_type"` // "agent" or "customer"
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"` // RFC 3339, stamped by the router
}

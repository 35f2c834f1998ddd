// Package hub owns all routing state for one chat routing process: the set
// of live connections, the per-user connection sets, and the per-session
// membership sets. Every mutation is posted onto a single goroutine's
// operation loop, so the maps have exactly one writer and no caller ever
// touches them directly.
package hub

import (
	"errors"
	"log"
	"sync"

	"github.com/helpdesk/livechat/internal/chat"
	"github.com/helpdesk/livechat/internal/metrics"
	"github.com/helpdesk/livechat/internal/protocol"
)

// ErrInvalidHandshake is returned by Admit when the user identity is missing
// or malformed. The transport layer rejects these before the upgrade, so
// seeing it here means a wiring bug.
var ErrInvalidHandshake = errors.New("hub: missing or invalid user identity")

// SendFunc delivers an encoded envelope to a connection's transport. It is
// called from that connection's writer goroutine, never from the hub
// goroutine, so a slow transport only stalls its own connection.
type SendFunc func(data []byte) error

// PresenceFunc is invoked (on the hub goroutine) whenever a user's aggregate
// online/offline state flips. Implementations that touch the network should
// hand off to their own goroutine.
type PresenceFunc func(userID, userType, status string)

// HistoryFunc is invoked (on the hub goroutine) for every chat message
// accepted for delivery, so an external store can persist it.
type HistoryFunc func(sessionID string, msg protocol.NewMessageData)

// outboundQueueSize bounds the per-connection outbound queue. A consumer
// that falls further behind than this starts losing envelopes rather than
// holding memory or stalling routing.
const outboundQueueSize = 256

// connection is the hub's record of one live transport. Envelopes are
// enqueued on outbound by the hub goroutine and written to the transport by
// the connection's own writer goroutine.
type connection struct {
	id       string
	userID   string
	userType string
	outbound chan []byte
	open     bool
	joined   []string // chat session ids in join order
}

// Hub is the single-writer owner of connection and membership state.
type Hub struct {
	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once

	conns     map[string]*connection            // connection id -> connection
	userConns map[string]map[string]*connection // user id -> connection id -> connection
	members   map[string]map[string]*connection // chat session id -> connection id -> connection

	replay     *chat.ReplayBuffer
	onPresence PresenceFunc
	onHistory  HistoryFunc
}

// New creates a Hub and starts its operation loop.
func New() *Hub {
	h := &Hub{
		ops:       make(chan func(), 256),
		done:      make(chan struct{}),
		conns:     make(map[string]*connection),
		userConns: make(map[string]map[string]*connection),
		members:   make(map[string]map[string]*connection),
		replay:    chat.NewReplayBuffer(),
	}
	go h.run()
	return h
}

// SetOnPresence registers the presence-flip callback. Must be called before
// the first Admit.
func (h *Hub) SetOnPresence(fn PresenceFunc) {
	h.onPresence = fn
}

// SetOnHistory registers the history feed callback. Must be called before
// the first Admit.
func (h *Hub) SetOnHistory(fn HistoryFunc) {
	h.onHistory = fn
}

// Stop terminates the operation loop. Pending operations are abandoned.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// run is the hub's event loop: operations execute one at a time, which is
// the entire mutual-exclusion story for the state maps.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case op := <-h.ops:
			op()
		}
	}
}

// do posts an operation and blocks until it has executed, so callers observe
// their own mutations. Operations posted from different goroutines execute
// in arrival order.
func (h *Hub) do(op func()) {
	ran := make(chan struct{})
	select {
	case h.ops <- func() {
		op()
		close(ran)
	}:
		<-ran
	case <-h.done:
	}
}

// ---------------------------------------------------------------------------
// Connection registry
// ---------------------------------------------------------------------------

// Admit registers a new open connection for the given user and sends the
// connected acknowledgment envelope to it. The connection id is assigned by
// the transport layer and must be process-unique.
func (h *Hub) Admit(connID, userID, userType string, send SendFunc) error {
	if connID == "" || userID == "" || !protocol.ValidUserType(userType) {
		return ErrInvalidHandshake
	}

	h.do(func() {
		c := &connection{
			id:       connID,
			userID:   userID,
			userType: userType,
			outbound: make(chan []byte, outboundQueueSize),
			open:     true,
		}
		h.conns[connID] = c
		go h.writeLoop(c, send)

		set, ok := h.userConns[userID]
		if !ok {
			set = make(map[string]*connection)
			h.userConns[userID] = set
		}
		first := len(set) == 0
		set[connID] = c

		metrics.ConnectionsTotal.Set(float64(len(h.conns)))

		// Acknowledge the handshake on the new connection.
		ack, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedData{
			SessionID: connID,
			UserID:    userID,
			UserType:  userType,
			Timestamp: protocol.Timestamp(),
		})
		if err != nil {
			log.Printf("hub: failed to build connected ack conn=%s: %v", connID, err)
		} else {
			h.deliver(c, ack)
		}

		// First connection for this user: the user just came online.
		if first {
			h.emitUserStatus(c, protocol.StatusOnline)
		}
	})
	return nil
}

// Remove transitions a connection to closed and forgets it: the connection
// leaves its user set and every session membership it belonged to. Removing
// an unknown or already-removed id is a no-op.
func (h *Hub) Remove(connID string) {
	h.do(func() {
		c, ok := h.conns[connID]
		if !ok {
			return
		}
		c.open = false
		close(c.outbound) // writer drains the backlog and exits
		delete(h.conns, connID)

		// Detach from every joined session. Memberships stay allocated even
		// when empty so late joiners attach to the same set.
		for _, sessionID := range c.joined {
			if set, ok := h.members[sessionID]; ok {
				delete(set, connID)
			}
		}

		if set, ok := h.userConns[c.userID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.userConns, c.userID)
				// Last connection closed: the user went offline. The closing
				// connection's memberships are still on c.joined, which is
				// exactly the set of sessions that should hear about it.
				h.emitUserStatus(c, protocol.StatusOffline)
			}
		}

		metrics.ConnectionsTotal.Set(float64(len(h.conns)))
	})
}

// Send delivers an encoded envelope to a single connection if it is still
// open. Sends to closed or unknown connections are dropped, never errors;
// the registry does not let a dead peer fail a caller.
func (h *Hub) Send(connID string, data []byte) {
	h.do(func() {
		c, ok := h.conns[connID]
		if !ok || !c.open {
			metrics.MessagesTotal.WithLabelValues("dropped").Inc()
			return
		}
		h.deliver(c, data)
	})
}

// IsOnline reports whether the user has at least one open connection.
func (h *Hub) IsOnline(userID string) bool {
	var online bool
	h.do(func() {
		online = len(h.userConns[userID]) > 0
	})
	return online
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	var n int
	h.do(func() {
		n = len(h.conns)
	})
	return n
}

// deliver enqueues an envelope on the connection's outbound queue without
// blocking. A full queue means the consumer is too far behind; the envelope
// is dropped so one stalled peer can never delay the hub goroutine. Must
// only run on the hub goroutine (the queue is closed from there on Remove).
func (h *Hub) deliver(c *connection, data []byte) {
	select {
	case c.outbound <- data:
	default:
		log.Printf("hub: outbound queue full, dropping conn=%s user=%s", c.id, c.userID)
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
	}
}

// writeLoop drains one connection's outbound queue onto its transport. It
// exits when Remove closes the queue. A write failure is logged and counted;
// the transport's own read path notices the dead peer and triggers Remove.
func (h *Hub) writeLoop(c *connection, send SendFunc) {
	for data := range c.outbound {
		if err := send(data); err != nil {
			log.Printf("hub: send failed conn=%s user=%s: %v", c.id, c.userID, err)
			metrics.MessagesTotal.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	}
}

package hub

import (
	"log"

	"github.com/helpdesk/livechat/internal/metrics"
	"github.com/helpdesk/livechat/internal/protocol"
)

// emitUserStatus broadcasts a user's online/offline flip to the members of
// the sessions that user currently belongs to — never process-wide. The
// user's own connections are excluded; they already know. Must only run on
// the hub goroutine.
//
// For an offline flip the triggering connection has already been detached,
// but its joined list still names the sessions that should hear about it.
// For an online flip the sessions come from the user's other connections
// (a user's very first connection has joined nothing yet, so the flip can
// legitimately reach nobody; the presence mirror still records it).
func (h *Hub) emitUserStatus(trigger *connection, status string) {
	metrics.PresenceTransitions.WithLabelValues(status).Inc()

	if h.onPresence != nil {
		h.onPresence(trigger.userID, trigger.userType, status)
	}

	sessions := h.userSessions(trigger)
	if len(sessions) == 0 {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUserStatus, protocol.UserStatusData{
		UserID:    trigger.userID,
		UserType:  trigger.userType,
		Status:    status,
		Timestamp: protocol.Timestamp(),
	})
	if err != nil {
		log.Printf("hub: failed to build user_status user=%s: %v", trigger.userID, err)
		return
	}

	for _, sessionID := range sessions {
		set, ok := h.members[sessionID]
		if !ok {
			continue
		}
		for _, member := range set {
			if member.userID == trigger.userID || !member.open {
				continue
			}
			h.deliver(member, data)
		}
	}
}

// userSessions returns the distinct sessions the trigger connection's user
// belongs to: the trigger's own joined list plus those of the user's other
// live connections.
func (h *Hub) userSessions(trigger *connection) []string {
	seen := make(map[string]struct{})
	var sessions []string

	add := func(ids []string) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			sessions = append(sessions, id)
		}
	}

	add(trigger.joined)
	for _, c := range h.userConns[trigger.userID] {
		add(c.joined)
	}
	return sessions
}

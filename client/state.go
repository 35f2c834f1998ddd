package client

// State represents the reconnection manager's connection state.
type State int

const (
	// StateDisconnected means no transport is open. It is also the
	// terminal state once the retry budget is exhausted.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is open and envelopes flow.
	StateConnected
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

package dianya

// State represents the lifecycle position of a Stream.
type State string

const (
	// StateDisconnected is the initial state, and the state a stream returns to
	// after a failed handshake.
	StateDisconnected State = "Disconnected"

	// StateConnecting indicates the WebSocket handshake is in progress.
	StateConnecting State = "Connecting"

	// StateConnected indicates audio can be written and events received.
	StateConnected State = "Connected"

	// StateStopping indicates the read direction was stopped; the socket is
	// still open and writes are still accepted until Close.
	StateStopping State = "Stopping"

	// StateClosed is terminal. The stream must be discarded.
	StateClosed State = "Closed"
)

// IsActive returns true while the underlying connection is held open.
func (s State) IsActive() bool {
	switch s {
	case StateConnecting, StateConnected, StateStopping:
		return true
	default:
		return false
	}
}

// CanWrite returns true if outbound frames may be sent in this state.
func (s State) CanWrite() bool {
	return s == StateConnected || s == StateStopping
}

// IsTerminal returns true if the state cannot transition further.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

func (s State) String() string {
	return string(s)
}

// canTransition enforces the stream state machine.
func canTransition(from, to State) bool {
	if from == to || from.IsTerminal() {
		return false
	}
	switch to {
	case StateConnecting:
		return from == StateDisconnected
	case StateConnected:
		return from == StateConnecting
	case StateStopping:
		return from == StateConnected
	case StateDisconnected:
		return from == StateConnecting
	case StateClosed:
		return true
	}
	return false
}

package conn

//go:generate enumer -type=State -trimprefix=State

// State is the lifecycle state of a Conn.
type State uint8

const (
	StateConnecting State = iota
	StateAwaitingHandshakeResponse
	StateAwaitingHandshakeRequest
	// handshake completed, no invocation outstanding
	StateReady
	// handshake completed, at least one invocation outstanding
	StateBusy
	StateFailed
	StateClosed
)

// Usable reports whether application messages may be sent in state s.
func (s State) Usable() bool {
	return s == StateReady || s == StateBusy
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

//go:generate enumer -type=InvocationState -trimprefix=Invocation

// InvocationState is the state of a pending invocation on the caller side.
type InvocationState uint8

const (
	InvocationPending InvocationState = iota
	InvocationResolved
	InvocationFailed
	InvocationCancelRequested
	InvocationCancelAcked
)

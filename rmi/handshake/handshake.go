// Package handshake implements the exchange that gates every asyncrmi
// connection: the client sends a HandshakeRequest carrying its protocol
// version and the capabilities it requires, the server accepts or
// rejects it. No application message may flow before both sides
// reached PhaseReady.
//
// Machine is the transport-independent state machine, Do drives it over
// a blocking connection.
package handshake

import (
	"fmt"
	"net"

	"golang.org/x/exp/slices"

	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

// ProtocolVersion is the current protocol version.
// Peers with different versions refuse to talk to each other.
const ProtocolVersion uint32 = 1

// A HandshakeError describes what went wrong during the handshake.
// It implements net.Error.
type HandshakeError struct {
	msg string
	// If not nil, the underlying IO error that caused the handshake to fail.
	IOError error
	// The peer rejected our request, or we rejected the peer's.
	Rejected bool
	timeout  bool
}

var _ net.Error = &HandshakeError{}

func (e *HandshakeError) Error() string { return e.msg }

func (e *HandshakeError) Unwrap() error { return e.IOError }

// Temporary is true if the handshake failed because of the connection,
// not because of the peer's answer. Accept loops keep serving on
// temporary errors.
func (e *HandshakeError) Temporary() bool { return !e.Rejected }

// Timeout is true if the handshake did not complete in time.
func (e *HandshakeError) Timeout() bool {
	if e.timeout {
		return true
	}
	if neterr, ok := e.IOError.(net.Error); ok {
		return neterr.Timeout()
	}
	return false
}

func hsErr(format string, args ...interface{}) *HandshakeError {
	return &HandshakeError{msg: fmt.Sprintf(format, args...)}
}

func hsIOErr(err error, format string, args ...interface{}) *HandshakeError {
	return &HandshakeError{IOError: err, msg: fmt.Sprintf(format, args...)}
}

func hsRejected(format string, args ...interface{}) *HandshakeError {
	return &HandshakeError{Rejected: true, msg: fmt.Sprintf(format, args...)}
}

// NewTimeoutError returns the error a connection fails with if the
// handshake did not complete within the connect timeout.
func NewTimeoutError(format string, args ...interface{}) *HandshakeError {
	return &HandshakeError{timeout: true, msg: fmt.Sprintf(format, args...)}
}

//go:generate enumer -type=Phase -trimprefix=Phase

type Phase uint8

const (
	PhaseConnecting Phase = iota
	PhaseAwaitingResponse
	PhaseAwaitingRequest
	PhaseReady
	PhaseFailed
)

type Role bool

const (
	RoleClient Role = true
	RoleServer Role = false
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

type Config struct {
	Version uint32
	// Client: capabilities the server must support.
	// Server: capabilities offered to clients.
	Capabilities []string
}

func DefaultConfig() Config {
	return Config{Version: ProtocolVersion}
}

// Machine is the handshake state machine of one side of a connection.
// It performs no I/O: callers send the messages it returns and feed it
// the messages they receive. A Machine is not safe for concurrent use.
type Machine struct {
	role  Role
	cfg   Config
	phase Phase
	err   *HandshakeError
}

func NewMachine(role Role, cfg Config) *Machine {
	if cfg.Version == 0 {
		cfg.Version = ProtocolVersion
	}
	cfg.Capabilities = slices.Clone(cfg.Capabilities)
	return &Machine{role: role, cfg: cfg, phase: PhaseConnecting}
}

func (m *Machine) Role() Role   { return m.role }
func (m *Machine) Phase() Phase { return m.phase }

// Err returns the reason of the failure if Phase() == PhaseFailed.
func (m *Machine) Err() *HandshakeError { return m.err }

// Start leaves PhaseConnecting once the transport is established.
// For the client it returns the request to send.
func (m *Machine) Start() wire.Message {
	if m.phase != PhaseConnecting {
		panic(fmt.Sprintf("handshake: Start in phase %s", m.phase))
	}
	if m.role == RoleServer {
		m.phase = PhaseAwaitingRequest
		return nil
	}
	m.phase = PhaseAwaitingResponse
	return &wire.HandshakeRequest{
		Version:      m.cfg.Version,
		Capabilities: slices.Clone(m.cfg.Capabilities),
	}
}

// Handle feeds a received message into the machine. It returns the
// reply to send, if any, and a non-nil error if the handshake failed.
// A server that rejects the client returns both the reject reply and
// the error; the reply must be sent before closing the connection.
func (m *Machine) Handle(msg wire.Message) (reply wire.Message, err *HandshakeError) {
	switch m.phase {
	case PhaseAwaitingResponse:
		resp, ok := msg.(*wire.HandshakeResponse)
		if !ok {
			return nil, m.Fail(hsErr("protocol violation: expected handshake response, got %s message", msg.Tag()))
		}
		if !resp.Accept {
			return nil, m.Fail(hsRejected("handshake rejected by server: %s", resp.Reason))
		}
		m.phase = PhaseReady
		return nil, nil

	case PhaseAwaitingRequest:
		req, ok := msg.(*wire.HandshakeRequest)
		if !ok {
			return nil, m.Fail(hsErr("protocol violation: expected handshake request, got %s message", msg.Tag()))
		}
		if reason := m.check(req); reason != "" {
			reply := &wire.HandshakeResponse{Accept: false, Reason: reason}
			return reply, m.Fail(hsRejected("rejected client handshake: %s", reason))
		}
		m.phase = PhaseReady
		return &wire.HandshakeResponse{Accept: true}, nil

	default:
		return nil, m.Fail(hsErr("protocol violation: unexpected %s message in handshake phase %s", msg.Tag(), m.phase))
	}
}

// check returns the reason to reject req, or "".
func (m *Machine) check(req *wire.HandshakeRequest) string {
	if req.Version != m.cfg.Version {
		return fmt.Sprintf("protocol versions do not match: server speaks %d, client speaks %d", m.cfg.Version, req.Version)
	}
	var unsupported []string
	for _, c := range req.Capabilities {
		if !slices.Contains(m.cfg.Capabilities, c) {
			unsupported = append(unsupported, c)
		}
	}
	if len(unsupported) > 0 {
		slices.Sort(unsupported)
		unsupported = slices.Compact(unsupported)
		return fmt.Sprintf("unsupported capabilities %q", unsupported)
	}
	return ""
}

// Fail moves the machine to PhaseFailed with err, unless it already
// reached a terminal phase. It returns the effective error.
func (m *Machine) Fail(err *HandshakeError) *HandshakeError {
	switch m.phase {
	case PhaseFailed:
		return m.err
	case PhaseReady:
		return err
	}
	m.phase = PhaseFailed
	m.err = err
	return err
}

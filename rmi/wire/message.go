// Package wire defines the messages exchanged between asyncrmi peers
// and their framed binary encoding.
//
// Every message travels in one frame: an 8 byte header holding the
// message Tag and the payload length (both big endian uint32), followed
// by the payload. Payload fields use the protobuf wire format, so
// decoders skip fields they do not know.
package wire

import "fmt"

//go:generate enumer -type=Tag -trimprefix=Tag

type Tag uint32

const (
	TagInvocation Tag = 1 + iota
	TagResult
	TagError
	TagCancel
	TagHandshakeRequest
	TagHandshakeResponse
	TagHeartbeat
)

type Message interface {
	Tag() Tag
}

// Application messages may only flow on connections that completed the handshake.
type Application interface {
	Message
	InvocationID() uint64
}

func IsApplication(m Message) bool {
	_, ok := m.(Application)
	return ok
}

type Invocation struct {
	ID     uint64
	Target string // stub object id
	Method string
	Args   []Value
}

type Result struct {
	ID    uint64
	Value Value
}

// Error reports an application-level failure of an invocation.
type Error struct {
	ID      uint64
	Type    string
	Message string
}

type Cancel struct {
	ID uint64
}

type HandshakeRequest struct {
	Version      uint32
	Capabilities []string
}

type HandshakeResponse struct {
	Accept bool
	Reason string
}

type Heartbeat struct{}

func (*Invocation) Tag() Tag        { return TagInvocation }
func (*Result) Tag() Tag            { return TagResult }
func (*Error) Tag() Tag             { return TagError }
func (*Cancel) Tag() Tag            { return TagCancel }
func (*HandshakeRequest) Tag() Tag  { return TagHandshakeRequest }
func (*HandshakeResponse) Tag() Tag { return TagHandshakeResponse }
func (*Heartbeat) Tag() Tag         { return TagHeartbeat }

func (m *Invocation) InvocationID() uint64 { return m.ID }
func (m *Result) InvocationID() uint64     { return m.ID }
func (m *Error) InvocationID() uint64      { return m.ID }
func (m *Cancel) InvocationID() uint64     { return m.ID }

func (m *Invocation) String() string {
	return fmt.Sprintf("Invocation{id=%d target=%s method=%q args=%d}", m.ID, m.Target, m.Method, len(m.Args))
}

func (m *Error) String() string {
	return fmt.Sprintf("Error{id=%d type=%s msg=%q}", m.ID, m.Type, m.Message)
}

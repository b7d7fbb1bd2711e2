package wire

import "fmt"

// ProtocolError reports a malformed frame or an unexpected message.
// It is fatal to the connection it occurred on.
type ProtocolError struct {
	msg   string
	cause error
}

func (e *ProtocolError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("protocol error: %s: %s", e.msg, e.cause)
	}
	return fmt.Sprintf("protocol error: %s", e.msg)
}

func (e *ProtocolError) Unwrap() error { return e.cause }

func protoErr(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

func protoWrap(cause error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...), cause: cause}
}

// NewProtocolError is used by layers above the codec that detect
// protocol violations, e.g. application messages before the handshake.
func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return protoErr(format, args...)
}

package conn

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// TimeoutError is returned if an operation did not complete in time.
type TimeoutError struct {
	Op       string
	Endpoint string
	After    time.Duration
}

var _ net.Error = &TimeoutError{}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Op, e.Endpoint, e.After)
}

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }

// ConnectionClosedError is returned for invocations that were pending
// when their connection closed, and for invocations sent on a closed
// connection.
type ConnectionClosedError struct {
	Endpoint string
	Cause    error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("connection to %s closed", e.Endpoint)
	}
	return fmt.Sprintf("connection to %s closed: %s", e.Endpoint, e.Cause)
}

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

// RemoteError is an application-level failure reported by the peer.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Type, e.Message)
}

// ErrNotReady is returned for invocations sent before the handshake completed.
var ErrNotReady = errors.New("connection is not ready")

var errClosedLocally = errors.New("closed locally")

const (
	ErrorTypePanic        = "panic"
	ErrorTypeNoDispatcher = "no_dispatcher"
	ErrorTypeDuplicateID  = "duplicate_invocation_id"
)

// errorType returns the type reported to the peer for an error returned by a Dispatcher.
func errorType(err error) string {
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return rerr.Type
	}
	return fmt.Sprintf("%T", errors.Cause(err))
}

func errorMessage(err error) string {
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	return err.Error()
}

// Package timeoutconn wraps a Wire to provide idle timeouts
// based on Set{Read,Write}Deadline.
package timeoutconn

import (
	"net"
	"sync/atomic"
	"time"
)

type Wire interface {
	net.Conn
	// A call to CloseWrite indicates that no further Write calls will be made to Wire.
	// The implementation must return an error in case of Write calls after CloseWrite.
	// On the peer's side, after it read all data written to Wire prior to the call to
	// CloseWrite on our side, the peer's Read calls must return io.EOF.
	// CloseWrite must not affect the read-direction of Wire.
	CloseWrite() error
}

// Conn renews the read (write) deadline before every Read (Write),
// so that an operation only times out if the peer stayed silent
// (did not accept data) for idleTimeout.
type Conn struct {
	Wire
	renewDeadlinesDisabled int32
	idleTimeout            time.Duration
}

// Wrap returns conn with idle timeouts. An idleTimeout of zero
// disables them.
func Wrap(conn Wire, idleTimeout time.Duration) *Conn {
	c := &Conn{Wire: conn, idleTimeout: idleTimeout}
	if idleTimeout <= 0 {
		c.renewDeadlinesDisabled = 1
	}
	return c
}

func (c *Conn) IdleTimeout() time.Duration { return c.idleTimeout }

// DisableTimeouts disables the idle timeout behavior provided by this package.
// Existing deadlines are cleared iff the call is the first call to this method.
func (c *Conn) DisableTimeouts() error {
	if atomic.CompareAndSwapInt32(&c.renewDeadlinesDisabled, 0, 1) {
		return c.SetDeadline(time.Time{})
	}
	return nil
}

func (c *Conn) renewReadDeadline() error {
	if atomic.LoadInt32(&c.renewDeadlinesDisabled) != 0 {
		return nil
	}
	return c.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

func (c *Conn) RenewWriteDeadline() error {
	if atomic.LoadInt32(&c.renewDeadlinesDisabled) != 0 {
		return nil
	}
	return c.SetWriteDeadline(time.Now().Add(c.idleTimeout))
}

func (c *Conn) Read(p []byte) (n int, err error) {
	if err := c.renewReadDeadline(); err != nil {
		return 0, err
	}
	return c.Wire.Read(p)
}

// Write writes all of p, granting another idle timeout whenever the
// peer accepted some bytes.
func (c *Conn) Write(p []byte) (n int, err error) {
restart:
	if err := c.RenewWriteDeadline(); err != nil {
		return n, err
	}
	var nCurWrite int
	nCurWrite, err = c.Wire.Write(p[n:])
	n += nCurWrite
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() && nCurWrite > 0 {
		err = nil
		goto restart
	}
	return n, err
}

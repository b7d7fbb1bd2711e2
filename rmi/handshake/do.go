package handshake

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

// Conn is the part of a net.Conn used during the handshake.
type Conn interface {
	io.ReadWriter
	SetDeadline(t time.Time) error
}

const readBufSize = 4096

// Do runs m to completion over conn: it sends the client request or
// waits for it, and exchanges the response. Messages are read through
// dec, so bytes the peer sent after its last handshake message stay
// buffered in dec for the caller.
//
// The handshake is aborted when ctx is done or deadline passes,
// whichever comes first. onPhase, if not nil, observes every phase
// transition of m.
//
// Only returns *HandshakeError as error. The caller must close conn if
// an error is returned.
func Do(ctx context.Context, conn Conn, dec *wire.Decoder, m *Machine, deadline time.Time, onPhase func(Phase)) (rErr *HandshakeError) {
	observe := func() {
		if onPhase != nil {
			onPhase(m.Phase())
		}
	}
	defer func() {
		if rErr != nil {
			rErr = m.Fail(rErr)
		}
		observe()
	}()

	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return hsIOErr(err, "could not set deadline for handshake: %s", err)
	}

	// unblock pending reads and writes if ctx is cancelled
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
		if ctx.Err() != nil && rErr != nil {
			if ctx.Err() == context.DeadlineExceeded {
				rErr = NewTimeoutError("handshake timed out: %s", rErr)
			} else {
				rErr = hsIOErr(ctx.Err(), "handshake aborted: %s", ctx.Err())
			}
			return
		}
		if rErr != nil {
			return
		}
		if err := conn.SetDeadline(time.Time{}); err != nil {
			rErr = hsIOErr(err, "could not reset deadline after handshake: %s", err)
		}
	}()

	send := func(msg wire.Message) *HandshakeError {
		b, err := wire.Encode(msg)
		if err != nil {
			return hsErr("could not encode %s message: %s", msg.Tag(), err)
		}
		if _, err := conn.Write(b); err != nil {
			return hsIOErr(err, "could not send %s message: %s", msg.Tag(), err)
		}
		return nil
	}

	req := m.Start()
	observe()
	if req != nil {
		if err := send(req); err != nil {
			return err
		}
	}

	buf := make([]byte, readBufSize)
	for m.Phase() != PhaseReady {
		msg, err := dec.ReadMessage(conn, buf)
		if err != nil {
			if perr, ok := err.(*wire.ProtocolError); ok {
				return hsErr("could not decode handshake message: %s", perr)
			}
			return hsIOErr(err, "could not read handshake message: %s", err)
		}
		reply, herr := m.Handle(msg)
		if reply != nil {
			if err := send(reply); err != nil {
				if herr != nil {
					return herr
				}
				return err
			}
		}
		if herr != nil {
			return herr
		}
	}
	return nil
}

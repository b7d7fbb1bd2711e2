package rmi

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/transport"
)

// Server accepts connections and dispatches their invocations to the
// objects exported by its Client's Exporter.
type Server struct {
	lf         transport.AuthenticatedListenerFactory
	exporter   *export.Exporter
	dispatcher conn.Dispatcher
	cfg        Config
	log        Logger

	mtx       sync.Mutex
	conns     map[*conn.Conn]struct{}
	addr      net.Addr
	listening chan struct{}
}

// NewServer returns a Server for the listeners built by lf.
// Stubs received in arguments resolve through client, which also calls
// back remote objects passed to exported methods.
func NewServer(lf transport.AuthenticatedListenerFactory, client *Client, cfg Config, log Logger) *Server {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Server{
		lf:         lf,
		exporter:   client.Exporter(),
		dispatcher: NewDispatcher(client),
		cfg:        cfg,
		log:        log,
		conns:      make(map[*conn.Conn]struct{}),
		listening:  make(chan struct{}),
	}
}

func (s *Server) Exporter() *export.Exporter { return s.exporter }

// Listening is closed once Serve listens. Addr is valid afterwards.
func (s *Server) Listening() <-chan struct{} { return s.listening }

func (s *Server) Addr() net.Addr {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.addr
}

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Serve accepts connections until ctx is done, then closes the
// listener and all connections and returns after they are closed.
// Accept errors are logged, not returned. Consecutive accept errors
// back off exponentially up to acceptBackoffMax.
func (s *Server) Serve(ctx context.Context) error {
	l, err := s.lf()
	if err != nil {
		return errors.Wrap(err, "cannot listen")
	}
	s.mtx.Lock()
	s.addr = l.Addr()
	s.mtx.Unlock()
	close(s.listening)
	s.log.WithField("addr", l.Addr().String()).Info("serving")

	go func() {
		<-ctx.Done()
		s.log.Debug("context done")
		if err := l.Close(); err != nil {
			s.log.WithError(err).Error("cannot close listener")
		}
	}()

	actx := transport.WithLogger(ctx, s.log.ReplaceField(logger.FieldSubsystem, "transport"))
	var wg sync.WaitGroup
	var backoff time.Duration
	for {
		ac, err := l.Accept(actx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Debug("stop accepting")
				break
			}
			backoff = nextAcceptBackoff(backoff)
			s.log.WithError(err).WithField("backoff", backoff).Error("accept error")
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, ac)
		}()
	}
	wg.Wait()
	return nil
}

func nextAcceptBackoff(cur time.Duration) time.Duration {
	if cur < acceptBackoffMin {
		return acceptBackoffMin
	}
	if cur *= 2; cur > acceptBackoffMax {
		return acceptBackoffMax
	}
	return cur
}

func (s *Server) serveConn(ctx context.Context, ac *transport.AuthConn) {
	client := ac.ClientIdentity()
	log := s.log.WithField("client", client)
	c := conn.NewServer(ac, client, s.cfg.Conn, s.dispatcher, s.log.ReplaceField(logger.FieldSubsystem, "rmi.conn"))

	s.mtx.Lock()
	s.conns[c] = struct{}{}
	s.mtx.Unlock()
	defer func() {
		s.mtx.Lock()
		delete(s.conns, c)
		s.mtx.Unlock()
	}()

	c.Connect(ctx)
	select {
	case <-c.Done():
		log.WithError(c.Err()).Debug("connection closed")
	case <-ctx.Done():
		c.Close()
		log.Debug("closed connection on shutdown")
	}
}

// ActiveInvocations returns the number of invocations currently executed for remote callers.
func (s *Server) ActiveInvocations() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for c := range s.conns {
		n += c.ActiveInvocations()
	}
	return n
}

// Conns returns the number of open connections.
func (s *Server) Conns() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.conns)
}

package pool

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/util/future"
)

// Builder creates connections that completed the handshake.
type Builder interface {
	Create(ctx context.Context) *future.Future[*conn.Conn]
}

// Factory dials an endpoint and connects a client Conn over the result.
type Factory struct {
	endpoint  string
	connecter transport.Connecter
	cfg       conn.Config
	log       Logger
}

var _ Builder = (*Factory)(nil)

func NewFactory(endpoint string, connecter transport.Connecter, cfg conn.Config, log Logger) *Factory {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Factory{
		endpoint:  endpoint,
		connecter: connecter,
		cfg:       cfg,
		log:       log,
	}
}

func (f *Factory) Endpoint() string { return f.endpoint }

// Create dials and connects a new Conn.
//
// The returned future fails with a *conn.TimeoutError once
// ConnectTimeout elapsed, even if dialing or the handshake still
// proceed. A Conn that becomes ready after that is closed.
// Cancelling the future aborts the attempt.
func (f *Factory) Create(ctx context.Context) *future.Future[*conn.Conn] {
	out := future.New[*conn.Conn]()
	ctx, cancel := context.WithCancel(ctx)
	out.OnCancel(cancel)

	if f.cfg.ConnectTimeout > 0 {
		watchdog := time.AfterFunc(f.cfg.ConnectTimeout, func() {
			err := &conn.TimeoutError{Op: "connect to", Endpoint: f.endpoint, After: f.cfg.ConnectTimeout}
			if out.Fail(err) {
				prom.connectTimeouts.Inc()
				f.log.WithError(err).Warn("connect timed out, attempt continues in background")
			}
		})
		go func() {
			<-out.Done()
			watchdog.Stop()
		}()
	}

	go func() {
		defer cancel()
		w, err := f.connecter.Connect(ctx)
		if err != nil {
			prom.builds.WithLabelValues("dial_failed").Inc()
			out.Fail(errors.Wrapf(err, "dial %s", f.endpoint))
			return
		}
		c := conn.NewClient(w, f.endpoint, f.cfg, f.log)
		connected := c.Connect(ctx)
		<-connected.Done()
		if _, err := connected.Result(); err != nil {
			prom.builds.WithLabelValues("connect_failed").Inc()
			out.Fail(err)
			return
		}
		if !out.Resolve(c) {
			prom.builds.WithLabelValues("late").Inc()
			f.log.Debug("closing connection that became ready after the caller gave up")
			c.Close()
			return
		}
		prom.builds.WithLabelValues("ok").Inc()
	}()
	return out
}

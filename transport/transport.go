// Package transport defines a common interface for
// network connections that have an associated client identity.
package transport

import (
	"context"
	"net"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/util/timeoutconn"
)

type AuthConn struct {
	Wire
	clientIdentity string
}

func NewAuthConn(conn Wire, clientIdentity string) *AuthConn {
	return &AuthConn{conn, clientIdentity}
}

func (c *AuthConn) ClientIdentity() string {
	if err := ValidateClientIdentity(c.clientIdentity); err != nil {
		panic(err)
	}
	return c.clientIdentity
}

// like net.Listener, but with an AuthenticatedConn instead of net.Conn
type AuthenticatedListener interface {
	Addr() net.Addr
	Accept(ctx context.Context) (*AuthConn, error)
	Close() error
}

type AuthenticatedListenerFactory func() (AuthenticatedListener, error)

type Wire = timeoutconn.Wire

type Connecter interface {
	Connect(ctx context.Context) (Wire, error)
}

// A Dialer connects to arbitrary endpoints, using the same transport
// settings for all of them.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Wire, error)
}

type dialerConnecter struct {
	d        Dialer
	endpoint string
}

func (c dialerConnecter) Connect(ctx context.Context) (Wire, error) {
	return c.d.Dial(ctx, c.endpoint)
}

// ConnecterTo returns a Connecter that dials endpoint using d.
func ConnecterTo(d Dialer, endpoint string) Connecter {
	return dialerConnecter{d, endpoint}
}

// A client identity is a non-empty printable string without whitespace.
func ValidateClientIdentity(in string) error {
	if in == "" {
		return errors.New("client identity must not be empty")
	}
	if strings.IndexFunc(in, func(r rune) bool { return unicode.IsSpace(r) || !unicode.IsPrint(r) }) != -1 {
		return errors.Errorf("client identity %q must not contain whitespace or non-printable characters", in)
	}
	return nil
}

type contextKey int

const contextKeyLog contextKey = 0

type Logger = logger.Logger

func WithLogger(ctx context.Context, log Logger) context.Context {
	return context.WithValue(ctx, contextKeyLog, log)
}

func GetLogger(ctx context.Context) Logger {
	if log, ok := ctx.Value(contextKeyLog).(Logger); ok {
		return log
	}
	return logger.NewNullLogger()
}

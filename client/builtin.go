package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/rmi/export"
)

// Echo is exported by the serve subcommand as "echo".
type Echo struct {
	export.Object
	calls atomic.Int64
}

func (e *Echo) Echo(v interface{}) interface{} {
	e.calls.Add(1)
	return v
}

// Sleep returns after d or once the caller cancels the invocation.
func (e *Echo) Sleep(ctx context.Context, d string) (string, error) {
	e.calls.Add(1)
	dur, err := time.ParseDuration(d)
	if err != nil {
		return "", err
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return "slept " + dur.String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Echo) Fail(msg string) error {
	e.calls.Add(1)
	return errors.New(msg)
}

func (e *Echo) Calls() int64 { return e.calls.Load() }

// Counter is exported by the serve subcommand as "counter".
type Counter struct {
	export.Object
	n atomic.Int64
}

func (c *Counter) Add(n int64) int64 { return c.n.Add(n) }

func (c *Counter) Get() int64 { return c.n.Load() }

func builtinObjects() map[string]export.Remote {
	return map[string]export.Remote{
		"echo":    &Echo{},
		"counter": &Counter{},
	}
}

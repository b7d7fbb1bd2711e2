package pool

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
)

func TestFactoryCreate(t *testing.T) {
	pc := &pairConnecter{t: t}
	defer pc.closeAll()
	f := NewFactory("pair", pc, connConfig(), logger.NewTestLogger(t))
	assert.Equal(t, "pair", f.Endpoint())

	c, err := get(t, f.Create(context.Background()))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, conn.StateReady, c.State())
}

func TestFactoryDialFailure(t *testing.T) {
	pc := &pairConnecter{t: t, fail: errors.New("no route to host")}
	f := NewFactory("pair", pc, connConfig(), logger.NewTestLogger(t))

	_, err := get(t, f.Create(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial pair")
	assert.Contains(t, err.Error(), "no route to host")
}

func TestFactoryTimeoutClosesLateConnection(t *testing.T) {
	pc := &pairConnecter{t: t, delay: 200 * time.Millisecond}
	defer pc.closeAll()
	cfg := connConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	f := NewFactory("pair", pc, cfg, logger.NewTestLogger(t))

	begin := time.Now()
	_, err := get(t, f.Create(context.Background()))
	var terr *conn.TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "pair", terr.Endpoint)
	assert.Less(t, time.Since(begin), 200*time.Millisecond, "caller must not wait for the attempt")

	// the attempt finishes in the background and its connection is closed again
	assert.Eventually(t, func() bool {
		pc.mtx.Lock()
		defer pc.mtx.Unlock()
		if len(pc.servers) != 1 {
			return false
		}
		select {
		case <-pc.servers[0].Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFactoryNilLoggerTimeout(t *testing.T) {
	pc := &pairConnecter{t: t, delay: 100 * time.Millisecond}
	defer pc.closeAll()
	cfg := connConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	f := NewFactory("pair", pc, cfg, nil)

	_, err := get(t, f.Create(context.Background()))
	var terr *conn.TimeoutError
	require.True(t, errors.As(err, &terr))

	// the late connection is closed and logged without a logger configured
	assert.Eventually(t, func() bool {
		pc.mtx.Lock()
		defer pc.mtx.Unlock()
		if len(pc.servers) != 1 {
			return false
		}
		select {
		case <-pc.servers[0].Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFactoryCancel(t *testing.T) {
	pc := &pairConnecter{t: t, delay: 50 * time.Millisecond}
	defer pc.closeAll()
	f := NewFactory("pair", pc, connConfig(), logger.NewTestLogger(t))
	fut := f.Create(context.Background())
	require.True(t, fut.Cancel())
	_, err := fut.Result()
	assert.Error(t, err)
}

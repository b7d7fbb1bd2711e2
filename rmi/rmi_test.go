package rmi

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/transport/tcp"
)

type Counter struct {
	export.Object
	mtx sync.Mutex
	n   int
}

func (c *Counter) Add(n int) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.n += n
	return c.n
}

func (c *Counter) Get() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.n
}

type Pair struct {
	A, B *Counter
}

type Listener struct {
	export.Object
	received chan string
}

func (l *Listener) Receive(msg string) {
	l.received <- msg
}

type Service struct {
	export.Object
	counter *Counter
	started chan struct{}
	stopped chan struct{}
}

func newService() *Service {
	return &Service{
		counter: &Counter{},
		started: make(chan struct{}, 10),
		stopped: make(chan struct{}, 10),
	}
}

func (s *Service) Echo(v interface{}) interface{} { return v }

func (s *Service) Fail(msg string) error { return errors.New(msg) }

func (s *Service) Counter() *Counter { return s.counter }

func (s *Service) Pair() Pair { return Pair{s.counter, s.counter} }

func (s *Service) IsCounter(x interface{}) bool { return x == s.counter }

func (s *Service) Same(a, b *Proxy) bool { return a == b }

func (s *Service) Block(ctx context.Context) error {
	s.started <- struct{}{}
	<-ctx.Done()
	s.stopped <- struct{}{}
	return ctx.Err()
}

func (s *Service) Notify(ctx context.Context, l *Proxy, msg string) error {
	return l.Call(ctx, "Receive", msg).Await(ctx, nil)
}

type node struct {
	endpoint string
	client   *Client
	server   *Server
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Conn.CallTimeout = 5 * time.Second
	cfg.Conn.ConnectTimeout = 5 * time.Second
	cfg.Pool.MaxSize = 2
	return cfg
}

func startNode(t *testing.T, cfg Config) *node {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	endpoint := l.Addr().String()
	log := logger.NewTestLogger(t)

	exp := export.NewExporter(endpoint, log)
	dialer, err := tcp.TCPDialerFromConfig(&config.TCPConnect{ConnectCommon: config.ConnectCommon{DialTimeout: time.Second}})
	require.NoError(t, err)
	client := NewClient(dialer, exp, cfg, log)
	lf := func() (transport.AuthenticatedListener, error) {
		return tcp.NewTCPAuthListener(l, 0), nil
	}
	server := NewServer(lf, client, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, server.Serve(ctx))
	}()
	<-server.Listening()
	t.Cleanup(func() {
		cancel()
		<-done
		client.Close()
		exp.Close()
	})
	return &node{endpoint, client, server}
}

func withService(t *testing.T, cfg Config) (*node, *Service, *Proxy) {
	srv := startNode(t, cfg)
	svc := newService()
	_, err := srv.client.Exporter().ExportAs("service", svc)
	require.NoError(t, err)
	caller := startNode(t, cfg)
	return caller, svc, caller.client.Lookup(srv.endpoint, "service")
}

func awaitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInvoke(t *testing.T) {
	caller, _, svc := withService(t, testConfig())
	ctx := awaitCtx(t)

	var s string
	require.NoError(t, svc.Call(ctx, "Echo", "hello").Await(ctx, &s))
	assert.Equal(t, "hello", s)

	v, err := svc.Call(ctx, "Echo", map[string]interface{}{"a": "b"}).Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "b"}, v)

	require.NoError(t, caller.client.Ping(ctx, svc.Endpoint()))
}

func TestConcurrentCalls(t *testing.T) {
	cfg := testConfig()
	caller, svc, proxy := withService(t, cfg)
	ctx := awaitCtx(t)
	var p *Proxy
	require.NoError(t, proxy.Call(ctx, "Counter").Await(ctx, &p))

	const n = 50
	calls := make([]*Call, n)
	for i := range calls {
		calls[i] = p.Call(ctx, "Add", 1)
	}
	for _, c := range calls {
		require.NoError(t, c.Await(ctx, nil))
	}
	var total int
	require.NoError(t, p.Call(ctx, "Get").Await(ctx, &total))
	assert.Equal(t, n, total)
	assert.Equal(t, n, svc.counter.Get())

	stats := caller.client.Stats()[proxy.Endpoint()]
	assert.LessOrEqual(t, stats.Conns, cfg.Pool.MaxSize)
}

func TestRemoteObjectsKeepIdentity(t *testing.T) {
	caller, _, proxy := withService(t, testConfig())
	ctx := awaitCtx(t)

	var p1, p2 *Proxy
	require.NoError(t, proxy.Call(ctx, "Counter").Await(ctx, &p1))
	require.NoError(t, proxy.Call(ctx, "Counter").Await(ctx, &p2))
	assert.Same(t, p1, p2)

	var pair struct{ A, B *Proxy }
	require.NoError(t, proxy.Call(ctx, "Pair").Await(ctx, &pair))
	assert.Same(t, pair.A, pair.B)
	assert.Same(t, p1, pair.A)

	// a proxy sent back to its origin resolves to the original object
	var isCounter bool
	require.NoError(t, proxy.Call(ctx, "IsCounter", p1).Await(ctx, &isCounter))
	assert.True(t, isCounter)

	// a local object passed twice arrives as one proxy
	local := &Counter{}
	var same bool
	require.NoError(t, proxy.Call(ctx, "Same", local, local).Await(ctx, &same))
	assert.True(t, same)
	assert.Equal(t, 1, caller.client.Exporter().Len())
}

func TestCallback(t *testing.T) {
	caller, _, proxy := withService(t, testConfig())
	ctx := awaitCtx(t)

	l := &Listener{received: make(chan string, 1)}
	require.NoError(t, proxy.Call(ctx, "Notify", l, "hello").Await(ctx, nil))
	select {
	case msg := <-l.received:
		assert.Equal(t, "hello", msg)
	case <-ctx.Done():
		t.Fatal("callback not received")
	}
	info, ok := caller.client.Exporter().Info(l)
	require.True(t, ok)
	assert.NotEmpty(t, info.ObjectID)
}

func TestCancelReturnsActiveCountToBaseline(t *testing.T) {
	cfg := testConfig()
	srv := startNode(t, cfg)
	svc := newService()
	_, err := srv.client.Exporter().ExportAs("service", svc)
	require.NoError(t, err)
	caller := startNode(t, cfg)
	proxy := caller.client.Lookup(srv.endpoint, "service")
	ctx := awaitCtx(t)

	baseline := srv.server.ActiveInvocations()
	call := proxy.Call(ctx, "Block")
	select {
	case <-svc.started:
	case <-ctx.Done():
		t.Fatal("invocation did not start")
	}
	assert.Equal(t, baseline+1, srv.server.ActiveInvocations())

	require.True(t, call.Cancel())
	err = call.Await(ctx, nil)
	assert.Error(t, err)
	select {
	case <-svc.stopped:
	case <-ctx.Done():
		t.Fatal("invocation was not interrupted")
	}
	assert.Eventually(t, func() bool { return srv.server.ActiveInvocations() == baseline }, 5*time.Second, 10*time.Millisecond)
}

func TestTimeoutCancelsRemote(t *testing.T) {
	cfg := testConfig()
	cfg.Conn.CallTimeout = 100 * time.Millisecond
	srv := startNode(t, cfg)
	svc := newService()
	_, err := srv.client.Exporter().ExportAs("service", svc)
	require.NoError(t, err)
	caller := startNode(t, cfg)
	proxy := caller.client.Lookup(srv.endpoint, "service")
	ctx := awaitCtx(t)

	err = proxy.Call(ctx, "Block").Await(ctx, nil)
	var terr *conn.TimeoutError
	require.True(t, errors.As(err, &terr))
	select {
	case <-svc.stopped:
	case <-ctx.Done():
		t.Fatal("invocation was not interrupted")
	}
	assert.Eventually(t, func() bool { return srv.server.ActiveInvocations() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRemoteErrors(t *testing.T) {
	caller, _, proxy := withService(t, testConfig())
	ctx := awaitCtx(t)
	var rerr *conn.RemoteError

	err := proxy.Call(ctx, "Fail", "out of cheese").Await(ctx, nil)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "out of cheese", rerr.Message)

	err = proxy.Call(ctx, "Launch").Await(ctx, nil)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ErrorTypeNoSuchMethod, rerr.Type)

	err = proxy.Call(ctx, "Echo").Await(ctx, nil)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ErrorTypeBadArguments, rerr.Type)

	err = proxy.Call(ctx, "Same", "a", "b").Await(ctx, nil)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ErrorTypeBadArguments, rerr.Type)

	err = caller.client.Lookup(proxy.Endpoint(), "nobody").Call(ctx, "Echo", 1).Await(ctx, nil)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ErrorTypeNoSuchObject, rerr.Type)

	// application errors leave the connection usable
	var s string
	require.NoError(t, proxy.Call(ctx, "Echo", "still there").Await(ctx, &s))
	assert.Equal(t, "still there", s)
}

func TestServerShutdownFailsPendingCalls(t *testing.T) {
	cfg := testConfig()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	log := logger.NewTestLogger(t)
	exp := export.NewExporter(l.Addr().String(), log)
	defer exp.Close()
	svc := newService()
	_, err = exp.ExportAs("service", svc)
	require.NoError(t, err)
	dialer, err := tcp.TCPDialerFromConfig(&config.TCPConnect{})
	require.NoError(t, err)
	serverClient := NewClient(dialer, exp, cfg, log)
	defer serverClient.Close()
	server := NewServer(func() (transport.AuthenticatedListener, error) { return tcp.NewTCPAuthListener(l, 0), nil }, serverClient, cfg, log)

	sctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(sctx)
	}()
	<-server.Listening()

	caller := NewClient(dialer, nil, cfg, log)
	defer caller.Close()
	ctx := awaitCtx(t)
	call := caller.Lookup(l.Addr().String(), "service").Call(ctx, "Block")
	<-svc.started
	assert.Equal(t, 1, server.Conns())

	cancel()
	<-done
	err = call.Await(ctx, nil)
	var cerr *conn.ConnectionClosedError
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, 0, server.Conns())
}

func TestClosedClient(t *testing.T) {
	dialer, err := tcp.TCPDialerFromConfig(&config.TCPConnect{})
	require.NoError(t, err)
	c := NewClient(dialer, nil, testConfig(), logger.NewTestLogger(t))
	require.NoError(t, c.Close())
	ctx := awaitCtx(t)
	err = c.Lookup("127.0.0.1:1", "x").Call(ctx, "Echo").Await(ctx, nil)
	assert.Equal(t, ErrClientClosed, err)
}

func TestArgumentsWithoutExporterArePassedByValue(t *testing.T) {
	_, _, proxy := withService(t, testConfig())
	dialer, err := tcp.TCPDialerFromConfig(&config.TCPConnect{})
	require.NoError(t, err)
	c := NewClient(dialer, nil, testConfig(), logger.NewTestLogger(t))
	defer c.Close()
	ctx := awaitCtx(t)

	// without an endpoint the counter cannot be exported, both arguments arrive as distinct copies
	local := &Counter{}
	same := true
	require.NoError(t, c.Lookup(proxy.Endpoint(), "service").Call(ctx, "Same", local, local).Await(ctx, &same))
	assert.False(t, same)
	assert.Equal(t, 0, c.Exporter().Len())
}

func TestConfigFromRPC(t *testing.T) {
	c, err := config.ParseConfigBytes([]byte(`
rpc:
  call_timeout: 3s
  max_pool_size: 4
  pool_idle_timeout: 2m
  cancel_on_timeout: false
  capabilities: [compression]
`))
	require.NoError(t, err)
	cfg, err := ConfigFromRPC(c.RPC)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Conn.CallTimeout)
	assert.Equal(t, 10*time.Second, cfg.Conn.ConnectTimeout)
	assert.False(t, cfg.Conn.CancelOnTimeout)
	assert.Equal(t, []string{"compression"}, cfg.Conn.Capabilities)
	assert.Equal(t, uint32(16777216), cfg.Conn.RxFrameMax)
	assert.Equal(t, 4, cfg.Pool.MaxSize)
	assert.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout)

	def, err := ConfigFromRPC(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), def)
}

// failingListener fails every Accept until closed.
type failingListener struct {
	mtx     sync.Mutex
	accepts int
	closed  bool
}

func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (l *failingListener) Accept(ctx context.Context) (*transport.AuthConn, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	}
	l.accepts++
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.closed = true
	return nil
}

func (l *failingListener) Accepts() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.accepts
}

func TestServeBacksOffOnAcceptErrors(t *testing.T) {
	fl := &failingListener{}
	exp := export.NewExporter("127.0.0.1:1", nil)
	defer exp.Close()
	client := NewClient(nil, exp, testConfig(), nil)
	defer client.Close()
	server := NewServer(func() (transport.AuthenticatedListener, error) { return fl, nil }, client, testConfig(), logger.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	time.Sleep(150 * time.Millisecond)
	n := fl.Accepts()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 10, "accept loop must not spin on persistent errors")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNextAcceptBackoff(t *testing.T) {
	var got []time.Duration
	var b time.Duration
	for i := 0; i < 10; i++ {
		b = nextAcceptBackoff(b)
		got = append(got, b)
	}
	assert.Equal(t, acceptBackoffMin, got[0])
	assert.Equal(t, 2*acceptBackoffMin, got[1])
	assert.Equal(t, acceptBackoffMax, got[len(got)-1])
}

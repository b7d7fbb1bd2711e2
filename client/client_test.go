package client

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/logging"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/export"
)

func TestParseCallArgs(t *testing.T) {
	args, err := parseCallArgs([]string{"3", "hello", `"3"`, "[1, two]", "{a: true}", "~"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{
		3,
		"hello",
		"3",
		[]interface{}{1, "two"},
		map[string]interface{}{"a": true},
		nil,
	}, args)

	_, err = parseCallArgs([]string{"[unterminated"})
	assert.ErrorContains(t, err, "argument #0")
}

func TestEchoSleepCancelled(t *testing.T) {
	e := &Echo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Sleep(ctx, "1h")
	assert.ErrorIs(t, err, context.Canceled)

	res, err := e.Sleep(context.Background(), "1ms")
	require.NoError(t, err)
	assert.Equal(t, "slept 1ms", res)

	_, err = e.Sleep(context.Background(), "soon")
	assert.Error(t, err)
	assert.EqualValues(t, 3, e.Calls())
}

func testConfig(t *testing.T, input string) *config.Config {
	t.Helper()
	conf, err := config.ParseConfigBytes([]byte(input))
	require.NoError(t, err)
	return conf
}

const serveConfig = `
rpc:
  heartbeat_interval: 1s
  heartbeat_timeout: 5s
serve:
  type: tcp
  listen: "127.0.0.1:0"
`

func startServeNode(t *testing.T, conf *config.Config) (*serveNode, map[string]export.Remote) {
	t.Helper()
	objs := builtinObjects()
	n, err := newServeNode(conf, objs, logger.NewTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	<-n.server.Listening()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return n, objs
}

func TestServeAndCall(t *testing.T) {
	conf := testConfig(t, serveConfig)
	n, objs := startServeNode(t, conf)
	assert.Equal(t, 2, n.exporter.Len())

	client, err := newClient(conf, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sum int64
	require.NoError(t, client.Lookup(n.endpoint, "counter").Call(ctx, "Add", 3).Await(ctx, &sum))
	assert.EqualValues(t, 3, sum)
	require.NoError(t, client.Lookup(n.endpoint, "counter").Call(ctx, "Add", 4).Await(ctx, &sum))
	assert.EqualValues(t, 7, sum)
	assert.EqualValues(t, 7, objs["counter"].(*Counter).Get())

	args, err := parseCallArgs([]string{"{a: [1, 2]}"})
	require.NoError(t, err)
	var echoed map[string][]int
	require.NoError(t, client.Lookup(n.endpoint, "echo").Call(ctx, "Echo", args...).Await(ctx, &echoed))
	assert.Equal(t, map[string][]int{"a": {1, 2}}, echoed)

	err = client.Lookup(n.endpoint, "echo").Call(ctx, "Fail", "nope").Await(ctx, nil)
	var remoteErr *conn.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Error(), "nope")

	require.NoError(t, client.Ping(ctx, n.endpoint))
}

func TestServeWithoutServeSection(t *testing.T) {
	conf := testConfig(t, "rpc: {}\n")
	_, err := newServeNode(conf, nil, logger.NewNullLogger())
	assert.ErrorContains(t, err, "no 'serve' section")
}

func TestMetricsRegistry(t *testing.T) {
	r, err := newMetricsRegistry()
	require.NoError(t, err)
	for _, name := range []string{
		"asyncrmi_version_server",
		"asyncrmi_pool_connections",
		"asyncrmi_conn_open_connections",
		"asyncrmi_export_exported_objects",
	} {
		n, err := testutil.GatherAndCount(r, name)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)
	}
}

func TestConfigcheck(t *testing.T) {
	conf := testConfig(t, serveConfig)
	assert.NoError(t, runConfigcheck(conf, "all", ""))
	assert.NoError(t, runConfigcheck(conf, "rpc", "json"))
	assert.ErrorContains(t, runConfigcheck(conf, "all", "xml"), "unsupported --format")
	assert.ErrorContains(t, runConfigcheck(conf, "jobs", ""), "unsupported --what")
}

type entryChan chan logger.Entry

func (c entryChan) WriteEntry(e logger.Entry) error {
	select {
	case c <- e:
	default:
	}
	return nil
}

func TestServePrometheusLogsThroughContext(t *testing.T) {
	entries := make(entryChan, 8)
	outlets := logger.NewOutlets()
	outlets.Add(entries, logger.Debug)
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger.NewLogger(outlets)))
	done := make(chan error, 1)
	go func() { done <- servePrometheus(ctx, "127.0.0.1:0") }()

	var e logger.Entry
	select {
	case e = <-entries:
	case <-time.After(5 * time.Second):
		t.Fatal("metrics listener did not log its address")
	}
	assert.Equal(t, "serving metrics", e.Message)
	assert.Equal(t, string(logging.SubsysMetrics), e.Fields[logger.FieldSubsystem])

	resp, err := http.Get("http://" + e.Fields["addr"].(string) + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "asyncrmi_version_server")

	cancel()
	assert.NoError(t, <-done)
}

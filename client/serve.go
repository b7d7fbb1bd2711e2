package client

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/asyncrmi/asyncrmi/cli"
	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/logging"
	"github.com/asyncrmi/asyncrmi/rmi"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/rmi/pool"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/transport/fromconfig"
	"github.com/asyncrmi/asyncrmi/version"
)

var serveArgs struct {
	noBuiltins bool
}

var ServeCmd = &cli.Subcommand{
	Use:   "serve",
	Short: "serve the built-in echo and counter objects",
	SetupFlags: func(f *pflag.FlagSet) {
		f.BoolVar(&serveArgs.noBuiltins, "no-builtins", false, "do not export the echo and counter objects")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		conf := subcommand.Config()
		log, err := loggerFromConfig(conf)
		if err != nil {
			return err
		}
		objs := builtinObjects()
		if serveArgs.noBuiltins {
			objs = nil
		}
		return runServe(ctx, conf, objs, log)
	},
}

func runServe(ctx context.Context, conf *config.Config, objs map[string]export.Remote, log logger.Logger) error {
	n, err := newServeNode(conf, objs, log)
	if err != nil {
		return err
	}
	return n.Run(ctx)
}

// serveNode is a listening server whose exporter advertises the bound
// address.
type serveNode struct {
	endpoint string
	exporter *export.Exporter
	client   *rmi.Client
	server   *rmi.Server
	metrics  []string
	log      logger.Logger
}

func newServeNode(conf *config.Config, objs map[string]export.Remote, log logger.Logger) (_ *serveNode, err error) {
	if conf.Serve == nil {
		return nil, errors.New("config has no 'serve' section")
	}
	rmiConf, err := rmi.ConfigFromRPC(conf.RPC)
	if err != nil {
		return nil, err
	}
	dialer, err := fromconfig.DialerFromConfig(conf.Connect)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build dialer from config")
	}
	lf, err := fromconfig.ListenerFactoryFromConfig(conf.Serve)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build listener from config")
	}
	// listen before exporting, stubs carry the bound address
	l, err := lf()
	if err != nil {
		return nil, errors.Wrap(err, "cannot listen")
	}
	defer func() {
		if err != nil {
			l.Close()
		}
	}()

	n := &serveNode{
		endpoint: fromconfig.AdvertisedEndpoint(conf.Serve, l.Addr()),
		log:      log,
	}
	n.exporter = export.NewExporter(n.endpoint, logging.LogSubsystem(log, logging.SubsysExport))
	ids := maps.Keys(objs)
	slices.Sort(ids)
	for _, id := range ids {
		stub, err := n.exporter.ExportAs(id, objs[id])
		if err != nil {
			n.exporter.Close()
			return nil, err
		}
		log.WithField("stub", stub.String()).Info("exported")
	}

	rmiLog := logging.LogSubsystem(log, logging.SubsysRMI)
	n.client = rmi.NewClient(dialer, n.exporter, rmiConf, rmiLog)
	n.server = rmi.NewServer(func() (transport.AuthenticatedListener, error) { return l, nil }, n.client, rmiConf, rmiLog)

	if conf.Global != nil {
		for _, m := range conf.Global.Monitoring {
			if pm, ok := m.Ret.(*config.PrometheusMonitoring); ok {
				n.metrics = append(n.metrics, pm.Listen)
			}
		}
	}
	return n, nil
}

// Run serves until ctx is done or serving fails, then releases all
// resources of the node.
func (n *serveNode) Run(ctx context.Context) error {
	defer n.exporter.Close()
	defer n.client.Close()

	ctx = logging.WithSubsystemLoggers(ctx, n.log)
	g, ctx := errgroup.WithContext(ctx)
	for _, listen := range n.metrics {
		listen := listen
		g.Go(func() error { return servePrometheus(ctx, listen) })
	}
	g.Go(func() error { return n.server.Serve(ctx) })
	return g.Wait()
}

func newMetricsRegistry() (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	version.PrometheusRegister(r)
	for _, register := range []func(prometheus.Registerer) error{
		conn.PrometheusRegister,
		pool.PrometheusRegister,
		export.PrometheusRegister,
	} {
		if err := register(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// servePrometheus logs to the logger installed with logging.WithLogger.
func servePrometheus(ctx context.Context, listen string) error {
	log := logging.GetLogger(ctx, logging.SubsysMetrics)
	registry, err := newMetricsRegistry()
	if err != nil {
		return errors.Wrap(err, "cannot register metrics")
	}
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return errors.Wrap(err, "cannot listen for metrics")
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	log.WithField("addr", l.Addr().String()).Info("serving metrics")
	err = http.Serve(l, mux)
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "error while serving metrics")
	}
	return nil
}

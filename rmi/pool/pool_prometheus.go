package pool

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	conns           prometheus.Gauge
	idle            prometheus.Gauge
	acquires        *prometheus.CounterVec
	builds          *prometheus.CounterVec
	connectTimeouts prometheus.Counter
}

func init() {
	prom.conns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncrmi",
		Subsystem: "pool",
		Name:      "connections",
		Help:      "Number of ready connections owned by pools",
	})
	prom.idle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncrmi",
		Subsystem: "pool",
		Name:      "idle_connections",
		Help:      "Number of released connections awaiting reuse",
	})
	prom.acquires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "pool",
		Name:      "acquires_total",
		Help:      "Number of Acquire calls by how they were served",
	}, []string{"source"})
	prom.builds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "pool",
		Name:      "builds_total",
		Help:      "Number of connection attempts by outcome",
	}, []string{"outcome"})
	prom.connectTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "pool",
		Name:      "connect_timeouts_total",
		Help:      "Number of connection attempts that exceeded the connect timeout",
	})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.conns,
		prom.idle,
		prom.acquires,
		prom.builds,
		prom.connectTimeouts,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

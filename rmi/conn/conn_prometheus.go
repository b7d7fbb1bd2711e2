package conn

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	handshakes     *prometheus.CounterVec
	open           prometheus.Gauge
	pending        prometheus.Gauge
	invocations    *prometheus.CounterVec
	cancelsSent    prometheus.Counter
	active         prometheus.Gauge
	droppedReplies prometheus.Counter
}

func init() {
	prom.handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "handshakes_total",
		Help:      "Number of completed handshakes by role and result",
	}, []string{"role", "result"})
	prom.open = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "open_connections",
		Help:      "Number of connections past the handshake that are not closed yet",
	})
	prom.pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "pending_invocations",
		Help:      "Number of outbound invocations awaiting a reply",
	})
	prom.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "invocations_total",
		Help:      "Number of outbound invocations by outcome",
	}, []string{"outcome"})
	prom.cancelsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "cancels_sent_total",
		Help:      "Number of Cancel messages sent to peers",
	})
	prom.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "active_invocations",
		Help:      "Number of inbound invocations being executed",
	})
	prom.droppedReplies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "conn",
		Name:      "dropped_replies_total",
		Help:      "Number of replies discarded because their invocation was cancelled or timed out",
	})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.handshakes,
		prom.open,
		prom.pending,
		prom.invocations,
		prom.cancelsSent,
		prom.active,
		prom.droppedReplies,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

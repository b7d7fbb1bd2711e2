package export

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	exports  prometheus.Counter
	exported prometheus.Gauge
}

func init() {
	prom.exports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncrmi",
		Subsystem: "export",
		Name:      "exports_total",
		Help:      "Number of objects newly registered with an exporter",
	})
	prom.exported = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncrmi",
		Subsystem: "export",
		Name:      "exported_objects",
		Help:      "Number of objects currently exported",
	})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	if err := registry.Register(prom.exports); err != nil {
		return err
	}
	if err := registry.Register(prom.exported); err != nil {
		return err
	}
	return nil
}

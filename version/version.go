package version

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	asyncrmiVersion string // set by build infrastructure
)

type VersionInformation struct {
	Version         string
	RuntimeGo       string
	RuntimeGOOS     string
	RuntimeGOARCH   string
	RUNTIMECompiler string
}

func NewVersionInformation() *VersionInformation {
	return &VersionInformation{
		Version:         asyncrmiVersion,
		RuntimeGo:       runtime.Version(),
		RuntimeGOOS:     runtime.GOOS,
		RuntimeGOARCH:   runtime.GOARCH,
		RUNTIMECompiler: runtime.Compiler,
	}
}

func (i *VersionInformation) String() string {
	return fmt.Sprintf("asyncrmi version=%s go=%s GOOS=%s GOARCH=%s Compiler=%s",
		i.Version, i.RuntimeGo, i.RuntimeGOOS, i.RuntimeGOARCH, i.RUNTIMECompiler)
}

func newPrometheusMetric() prometheus.Collector {
	return prometheus.NewUntypedFunc(
		prometheus.UntypedOpts{
			Namespace: "asyncrmi",
			Subsystem: "version",
			Name:      "server",
			Help:      "asyncrmi server version",
			ConstLabels: map[string]string{
				"raw":          asyncrmiVersion,
				"version_info": NewVersionInformation().String(),
			},
		},
		func() float64 { return 1 },
	)
}

func PrometheusRegister(r prometheus.Registerer) {
	r.MustRegister(newPrometheusMetric())
}

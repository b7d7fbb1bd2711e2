package logging

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/tlsconf"
	"github.com/asyncrmi/asyncrmi/transport"
)

// OutletsFromConfig builds the outlets of the global logging section.
// Without outlets, warnings and errors go to stdout.
func OutletsFromConfig(in config.LoggingOutletEnumList) (*logger.Outlets, error) {
	outlets := logger.NewOutlets()
	if len(in) == 0 {
		outlets.Add(NewWriterOutlet(&HumanFormatter{}, os.Stdout), logger.Warn)
		return outlets, nil
	}

	stdout := 0
	for i, le := range in {
		outlet, minLevel, err := parseOutlet(le)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse outlet #%d", i)
		}
		if _, ok := le.Ret.(*config.StdoutLoggingOutlet); ok {
			stdout++
		}
		outlets.Add(outlet, minLevel)
	}
	if stdout > 1 {
		return nil, errors.New("can only define one 'stdout' outlet")
	}
	return outlets, nil
}

type Subsystem string

const (
	SubsysRMI       Subsystem = "rmi"
	SubsysConn      Subsystem = "rmi.conn"
	SubsysPool      Subsystem = "rmi.pool"
	SubsysExport    Subsystem = "rmi.export"
	SubsysTransport Subsystem = "transport"
	SubsysMetrics   Subsystem = "metrics"
	SubsysCLI       Subsystem = "cli"
)

// WithSubsystemLoggers installs log for GetLogger and for the
// transport listeners.
func WithSubsystemLoggers(ctx context.Context, log logger.Logger) context.Context {
	ctx = transport.WithLogger(ctx, LogSubsystem(log, SubsysTransport))
	return WithLogger(ctx, log)
}

func LogSubsystem(log logger.Logger, subsys Subsystem) logger.Logger {
	return log.ReplaceField(logSubsysField, string(subsys))
}

type contextKey int

const contextKeyLogger contextKey = iota

func WithLogger(ctx context.Context, log logger.Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger, log)
}

// GetLogger returns the context's logger tagged with subsys, or a null
// logger if none was installed.
func GetLogger(ctx context.Context, subsys Subsystem) logger.Logger {
	log, ok := ctx.Value(contextKeyLogger).(logger.Logger)
	if !ok {
		return logger.NewNullLogger()
	}
	return LogSubsystem(log, subsys)
}

func parseLogFormat(format string) (EntryFormatter, error) {
	switch format {
	case "human":
		return &HumanFormatter{}, nil
	case "logfmt":
		return &LogfmtFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	default:
		return nil, errors.Errorf("invalid log format: '%s'", format)
	}
}

func parseCommon(common config.LoggingOutletCommon) (logger.Level, EntryFormatter, error) {
	if common.Level == "" || common.Format == "" {
		return 0, nil, errors.New("must specify 'level' and 'format' field")
	}
	minLevel, err := logger.ParseLevel(common.Level)
	if err != nil {
		return 0, nil, errors.Wrap(err, "cannot parse 'level' field")
	}
	formatter, err := parseLogFormat(common.Format)
	if err != nil {
		return 0, nil, errors.Wrap(err, "cannot parse 'format' field")
	}
	return minLevel, formatter, nil
}

func parseOutlet(in config.LoggingOutletEnum) (logger.Outlet, logger.Level, error) {
	switch v := in.Ret.(type) {
	case *config.StdoutLoggingOutlet:
		level, f, err := parseCommon(v.LoggingOutletCommon)
		if err != nil {
			return nil, 0, err
		}
		return buildStdoutOutlet(v, f), level, nil
	case *config.TCPLoggingOutlet:
		level, f, err := parseCommon(v.LoggingOutletCommon)
		if err != nil {
			return nil, 0, err
		}
		o, err := buildTCPOutlet(v, f)
		return o, level, err
	default:
		return nil, 0, errors.Errorf("unknown outlet type %T", v)
	}
}

// buildStdoutOutlet drops colors and, unless asked for, timestamps when
// stdout is not a terminal.
func buildStdoutOutlet(in *config.StdoutLoggingOutlet, formatter EntryFormatter) WriterOutlet {
	flags := MetadataAll
	tty := isatty.IsTerminal(os.Stdout.Fd())
	if !tty && !in.Time {
		flags &^= MetadataTime
	}
	if !tty || !in.Color {
		flags &^= MetadataColor
	}
	formatter.SetMetadataFlags(flags)
	return NewWriterOutlet(formatter, os.Stdout)
}

func buildTCPOutlet(in *config.TCPLoggingOutlet, formatter EntryFormatter) (*TCPOutlet, error) {
	var tlsConfig *tls.Config
	if in.TLS != nil {
		var err error
		if tlsConfig, err = tcpOutletTLS(in.TLS, in.Address); err != nil {
			return nil, errors.Wrap(err, "cannot parse TLS config in field 'tls'")
		}
	}
	formatter.SetMetadataFlags(MetadataAll &^ MetadataColor)
	return NewTCPOutlet(formatter, in.Net, in.Address, tlsConfig, in.RetryInterval), nil
}

func tcpOutletTLS(in *config.TCPLoggingOutletTLS, address string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(in.Cert, in.Key)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load client cert")
	}
	var rootCAs *x509.CertPool
	if in.CA == "" {
		if rootCAs, err = x509.SystemCertPool(); err != nil {
			return nil, errors.Wrap(err, "cannot open system cert pool")
		}
	} else if rootCAs, err = tlsconf.ParseCAFile(in.CA); err != nil {
		return nil, errors.Wrap(err, "cannot parse CA cert")
	}
	return tlsconf.ClientAuthClient(address, rootCAs, cert)
}

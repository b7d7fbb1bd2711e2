package client

import (
	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/logging"
	"github.com/asyncrmi/asyncrmi/rmi"
	"github.com/asyncrmi/asyncrmi/transport/fromconfig"
)

func loggerFromConfig(conf *config.Config) (logger.Logger, error) {
	var outletConf config.LoggingOutletEnumList
	if conf.Global != nil && conf.Global.Logging != nil {
		outletConf = *conf.Global.Logging
	}
	outlets, err := logging.OutletsFromConfig(outletConf)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build logging from config")
	}
	return logger.NewLogger(outlets), nil
}

// newClient builds an rmi.Client that only calls out, its arguments
// are passed by value.
func newClient(conf *config.Config, log logger.Logger) (*rmi.Client, error) {
	dialer, err := fromconfig.DialerFromConfig(conf.Connect)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build dialer from config")
	}
	rmiConf, err := rmi.ConfigFromRPC(conf.RPC)
	if err != nil {
		return nil, err
	}
	return rmi.NewClient(dialer, nil, rmiConf, logging.LogSubsystem(log, logging.SubsysRMI)), nil
}

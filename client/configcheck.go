package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/asyncrmi/asyncrmi/cli"
	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/logging"
	"github.com/asyncrmi/asyncrmi/rmi"
	"github.com/asyncrmi/asyncrmi/transport/fromconfig"
)

var configcheckArgs struct {
	format string
	what   string
}

var ConfigcheckCmd = &cli.Subcommand{
	Use:   "configcheck",
	Short: "check if config can be parsed without errors",
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&configcheckArgs.format, "format", "", "dump parsed config object [pretty|yaml|json]")
		f.StringVar(&configcheckArgs.what, "what", "all", "what to print [all|config|rpc|logging]")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		return runConfigcheck(subcommand.Config(), configcheckArgs.what, configcheckArgs.format)
	},
}

func runConfigcheck(conf *config.Config, what, format string) error {
	formatMap := map[string]func(interface{}) error{
		"": func(i interface{}) error { return nil },
		"pretty": func(i interface{}) error {
			_, err := pretty.Println(i)
			return err
		},
		"json": func(i interface{}) error {
			return json.NewEncoder(os.Stdout).Encode(i)
		},
		"yaml": func(i interface{}) error {
			return yaml.NewEncoder(os.Stdout).Encode(i)
		},
	}

	formatter, ok := formatMap[format]
	if !ok {
		return fmt.Errorf("unsupported --format %q", format)
	}

	var hadErr bool
	check := func(section string, err error) {
		if err == nil {
			return
		}
		err = errors.Wrapf(err, "cannot build %s from config", section)
		fmt.Fprintf(os.Stderr, "%s\n", err)
		hadErr = true
	}

	_, err := fromconfig.DialerFromConfig(conf.Connect)
	check("dialer", err)
	if conf.Serve != nil {
		_, err = fromconfig.ListenerFactoryFromConfig(conf.Serve)
		check("listener", err)
	}
	var outlets *logger.Outlets
	if conf.Global != nil && conf.Global.Logging != nil {
		outlets, err = logging.OutletsFromConfig(*conf.Global.Logging)
		check("logging", err)
	}
	rpc, err := rmi.ConfigFromRPC(conf.RPC)
	check("rpc", err)

	whatMap := map[string]func() interface{}{
		"all": func() interface{} {
			return struct {
				Config *config.Config
				RPC    rmi.Config
			}{conf, rpc}
		},
		"config":  func() interface{} { return conf },
		"rpc":     func() interface{} { return rpc },
		"logging": func() interface{} { return outlets },
	}

	wf, ok := whatMap[what]
	if !ok {
		return fmt.Errorf("unsupported --what %q", what)
	}
	if err := formatter(wf()); err != nil {
		return err
	}

	if hadErr {
		return fmt.Errorf("config parsing failed")
	}
	return nil
}

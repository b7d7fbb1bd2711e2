package client

import (
	"context"
	"fmt"
	"time"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/asyncrmi/asyncrmi/cli"
)

var callArgs struct {
	timeout time.Duration
}

var CallCmd = &cli.Subcommand{
	Use:             "call ENDPOINT OBJECT METHOD [ARG...]",
	Short:           "invoke a method of a remote object and print the result",
	Example:         "  asyncrmi call 127.0.0.1:8890 counter Add 3\n  asyncrmi call 127.0.0.1:8890 echo Echo '{a: [1, 2]}'",
	NoRequireConfig: true,
	Args:            cobra.MinimumNArgs(3),
	SetupFlags: func(f *pflag.FlagSet) {
		f.DurationVar(&callArgs.timeout, "timeout", 0, "give up after this duration, 0 leaves it to rpc.call_timeout")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		conf := subcommand.ConfigOrDefault()
		log, err := loggerFromConfig(conf)
		if err != nil {
			return err
		}
		params, err := parseCallArgs(args[3:])
		if err != nil {
			return err
		}
		client, err := newClient(conf, log)
		if err != nil {
			return err
		}
		defer client.Close()

		if callArgs.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, callArgs.timeout)
			defer cancel()
		}

		res, err := client.Lookup(args[0], args[1]).Call(ctx, args[2], params...).Value(ctx)
		if err != nil {
			return errors.Wrapf(err, "%s.%s", args[1], args[2])
		}
		_, err = fmt.Println(pretty.Sprint(res))
		return err
	},
}

// parseCallArgs decodes every argument as a YAML literal, so "3" is an
// int and "[a, b]" a list. Quote to force a string.
func parseCallArgs(args []string) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		if err := yaml.Unmarshal([]byte(a), &out[i]); err != nil {
			return nil, errors.Wrapf(err, "argument #%d", i)
		}
	}
	return out, nil
}

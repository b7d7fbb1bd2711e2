package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/asyncrmi/asyncrmi/cli"
)

var pingArgs struct {
	count    int
	interval time.Duration
}

var PingCmd = &cli.Subcommand{
	Use:             "ping ENDPOINT",
	Short:           "connect to a server and complete the handshake",
	NoRequireConfig: true,
	Args:            cobra.ExactArgs(1),
	SetupFlags: func(f *pflag.FlagSet) {
		f.IntVarP(&pingArgs.count, "count", "c", 1, "number of handshakes, each on a fresh connection")
		f.DurationVar(&pingArgs.interval, "interval", time.Second, "pause between handshakes")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		conf := subcommand.ConfigOrDefault()
		log, err := loggerFromConfig(conf)
		if err != nil {
			return err
		}
		var failed int
		for i := 0; i < pingArgs.count; i++ {
			if i > 0 {
				select {
				case <-time.After(pingArgs.interval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			// a new client per round, pooled connections would skip the handshake
			client, err := newClient(conf, log)
			if err != nil {
				return err
			}
			start := time.Now()
			err = client.Ping(ctx, args[0])
			client.Close()
			if err != nil {
				failed++
				fmt.Printf("%s: %s\n", args[0], err)
				continue
			}
			fmt.Printf("%s: handshake completed in %s\n", args[0], time.Since(start).Round(time.Microsecond))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d handshakes failed", failed, pingArgs.count)
		}
		return nil
	},
}

package client

import (
	"context"
	"fmt"

	"github.com/asyncrmi/asyncrmi/cli"
	"github.com/asyncrmi/asyncrmi/version"
)

var VersionCmd = &cli.Subcommand{
	Use:             "version",
	Short:           "print version information",
	NoRequireConfig: true,
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		_, err := fmt.Println(version.NewVersionInformation().String())
		return err
	},
}

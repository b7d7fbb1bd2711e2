// See cli and client packages.
package main

import (
	"github.com/asyncrmi/asyncrmi/cli"
	"github.com/asyncrmi/asyncrmi/client"
)

func init() {
	cli.AddSubcommand(client.ServeCmd)
	cli.AddSubcommand(client.CallCmd)
	cli.AddSubcommand(client.PingCmd)
	cli.AddSubcommand(client.ConfigcheckCmd)
	cli.AddSubcommand(client.VersionCmd)
}

func main() {
	cli.Run()
}

package main

import (
	"fmt"
	"os"

	"github.com/mwantia/gamevault/cmd/gamevault/cli"
	"github.com/mwantia/gamevault/cmd/gamevault/cli/client"
	"github.com/mwantia/gamevault/cmd/gamevault/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	info := cli.VersionInfo{
		Version: version,
		Commit:  commit,
	}
	root := cli.NewRootCommand(info)

	root.AddCommand(cli.NewVersionCommand(info))

	root.AddCommand(server.NewAgentCommand())
	root.AddCommand(server.NewConfigCommand())
	root.AddCommand(server.NewGCCommand())

	root.AddCommand(client.NewVfsCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

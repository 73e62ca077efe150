package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "omni",
		Usage: "OmniMessage Gateway - One API, All Platforms",
		Commands: []*cli.Command{
			serveHwd.cmd(),
			sendHwd.cmd(),
			broadcastHwd.cmd(),
			batchHwd.cmd(),
			statsHwd.cmd(),
			historyHwd.cmd(),
			templatesHwd.cmd(),
			scheduleHwd.cmd(),
			channelsHwd.cmd(),
			versionHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

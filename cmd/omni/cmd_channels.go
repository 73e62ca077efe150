package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/gateway"
)

var (
	channelsHwd = &ChannelsRunner{}
	versionHwd  = &VersionRunner{}
)

type ChannelsRunner struct{}

func (r *ChannelsRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "channels",
		Usage:  "List channels and whether they are configured",
		Flags:  globalFlags(),
		Action: r.run,
	}
}

func (r *ChannelsRunner) run(_ context.Context, cmd *cli.Command) error {
	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()

	for name, enabled := range gw.ChannelStates() {
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("%-10s %s\n", name, state)
	}
	return nil
}

type VersionRunner struct{}

func (r *VersionRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Print the gateway version",
		Action: r.run,
	}
}

func (r *VersionRunner) run(_ context.Context, _ *cli.Command) error {
	fmt.Printf("OmniMessage Gateway %s\n", gateway.Version)
	return nil
}

package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/store"
)

var (
	statsHwd   = &StatsRunner{}
	historyHwd = &HistoryRunner{}
)

type StatsRunner struct{}

func (r *StatsRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show delivery statistics from the message store",
		Flags: append(globalFlags(),
			&cli.IntFlag{Name: "hours", Value: 24, Usage: "Look-back window in hours"},
		),
		Action: r.run,
	}
}

func (r *StatsRunner) run(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()

	if gw.Store() == nil {
		return errors.New("no database configured; set --db or db_path")
	}
	stats, err := gw.Store().GetStats(ctx, int(cmd.Int("hours")))
	if err != nil {
		return err
	}
	return printJSON(stats)
}

type HistoryRunner struct{}

func (r *HistoryRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent messages from the store",
		Flags: append(globalFlags(),
			&cli.StringFlag{Name: "channel", Usage: "Filter by target channel"},
			&cli.StringFlag{Name: "status", Usage: "Filter by message status"},
			&cli.StringFlag{Name: "target", Usage: "Filter by target address"},
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum rows"},
			&cli.IntFlag{Name: "offset", Value: 0, Usage: "Rows to skip"},
		),
		Action: r.run,
	}
}

func (r *HistoryRunner) run(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()

	if gw.Store() == nil {
		return errors.New("no database configured; set --db or db_path")
	}
	rows, err := gw.Store().QueryMessages(ctx, store.QueryFilter{
		Channel: cmd.String("channel"),
		Status:  cmd.String("status"),
		Target:  cmd.String("target"),
		Limit:   int(cmd.Int("limit")),
		Offset:  int(cmd.Int("offset")),
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"count": len(rows), "messages": rows})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

var scheduleHwd = &ScheduleRunner{}

type ScheduleRunner struct{}

func (r *ScheduleRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage scheduled messages (stored in the database)",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Schedule a message for later delivery",
				Flags: append(globalFlags(),
					&cli.StringFlag{Name: "channel", Usage: "Target channel"},
					&cli.StringFlag{Name: "target", Usage: "Target address"},
					&cli.StringFlag{Name: "text", Aliases: []string{"m"}, Usage: "Message body"},
					&cli.StringFlag{Name: "at", Usage: "Absolute time (RFC3339, e.g. 2026-08-01T15:00:00Z)"},
					&cli.StringFlag{Name: "delay", Usage: "Relative delay (e.g. 90s, 15m, 2h)"},
				),
				Action: r.add,
			},
			{
				Name:  "list",
				Usage: "List scheduled messages",
				Flags: append(globalFlags(),
					&cli.StringFlag{Name: "status", Usage: "Filter by status (pending/executed)"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum rows"},
				),
				Action: r.list,
			},
			{
				Name:  "cancel",
				Usage: "Cancel a scheduled message",
				Flags: append(globalFlags(),
					&cli.StringFlag{Name: "id", Usage: "Schedule entry ID"},
				),
				Action: r.cancel,
			},
		},
	}
}

func (r *ScheduleRunner) add(ctx context.Context, cmd *cli.Command) error {
	channel := cmd.String("channel")
	target := cmd.String("target")
	text := cmd.String("text")
	if channel == "" || target == "" || text == "" {
		return errors.New("--channel, --target and --text are required")
	}

	var at time.Time
	switch {
	case cmd.String("at") != "":
		parsed, err := time.Parse(time.RFC3339, cmd.String("at"))
		if err != nil {
			return fmt.Errorf("invalid --at time: %w", err)
		}
		at = parsed
	case cmd.String("delay") != "":
		delay, err := time.ParseDuration(cmd.String("delay"))
		if err != nil {
			return fmt.Errorf("invalid --delay duration: %w", err)
		}
		at = time.Now().Add(delay)
	default:
		return errors.New("--at or --delay is required")
	}

	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()
	if gw.Store() == nil {
		return errors.New("no database configured; set --db or db_path")
	}

	id := uuid.New().String()
	data := map[string]any{"channel": channel, "target": target, "text": text}
	if err := gw.Store().SaveScheduled(ctx, id, data, at); err != nil {
		return err
	}
	fmt.Printf("Scheduled %s at %s\n", id, at.UTC().Format(time.RFC3339))
	return nil
}

func (r *ScheduleRunner) list(ctx context.Context, cmd *cli.Command) error {
	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()
	if gw.Store() == nil {
		return errors.New("no database configured; set --db or db_path")
	}

	rows, err := gw.Store().GetScheduled(ctx, cmd.String("status"), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"count": len(rows), "scheduled": rows})
}

func (r *ScheduleRunner) cancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	if id == "" {
		return errors.New("--id is required")
	}

	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()
	if gw.Store() == nil {
		return errors.New("no database configured; set --db or db_path")
	}

	ok, err := gw.Store().DeleteScheduled(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("schedule entry not found: %s", id)
	}
	gw.Scheduler().Cancel(id)
	fmt.Printf("Cancelled %s\n", id)
	return nil
}

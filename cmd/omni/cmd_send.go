package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/gateway"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

var (
	sendHwd      = &SendRunner{}
	broadcastHwd = &BroadcastRunner{}
	batchHwd     = &BatchRunner{}
)

type SendRunner struct{}

func (r *SendRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send a single message through a channel",
		Flags: append(globalFlags(),
			&cli.StringFlag{Name: "channel", Usage: "Target channel (telegram/whatsapp/discord/slack/email/webhook)"},
			&cli.StringFlag{Name: "target", Usage: "Target address (chat_id, phone, email, url)"},
			&cli.StringFlag{Name: "text", Aliases: []string{"m"}, Usage: "Message body"},
			&cli.StringFlag{Name: "template", Usage: "Template name to render"},
			&cli.StringFlag{Name: "vars", Usage: "Template variables as a JSON object"},
			&cli.StringFlag{Name: "metadata", Usage: "Adapter metadata as a JSON object"},
			&cli.IntFlag{Name: "priority", Value: 5, Usage: "Priority (0=low, 5=normal, 8=high, 10=critical)"},
			&cli.StringFlag{Name: "subject", Usage: "Email subject"},
		),
		Action: r.run,
	}
}

func (r *SendRunner) run(ctx context.Context, cmd *cli.Command) error {
	vars, err := parseJSONMap(cmd.String("vars"))
	if err != nil {
		return err
	}
	metadata, err := parseJSONMap(cmd.String("metadata"))
	if err != nil {
		return err
	}
	if subject := cmd.String("subject"); subject != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["subject"] = subject
	}

	data := map[string]any{
		"channel":  cmd.String("channel"),
		"target":   cmd.String("target"),
		"text":     cmd.String("text"),
		"template": cmd.String("template"),
		"priority": int(cmd.Int("priority")),
	}
	if vars != nil {
		data["template_vars"] = vars
	}
	if metadata != nil {
		data["metadata"] = metadata
	}

	msg, err := gateway.MessageFromRequest(data)
	if err != nil {
		return err
	}

	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()

	result := gw.Send(ctx, msg)
	if err := printJSON(result.ToMap()); err != nil {
		return err
	}
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

type BroadcastRunner struct{}

func (r *BroadcastRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "broadcast",
		Usage: "Send one message to several channels at once",
		Flags: append(globalFlags(),
			&cli.StringFlag{Name: "targets", Usage: "Comma-separated channel=target pairs (e.g. slack=#ops,telegram=12345)"},
			&cli.StringFlag{Name: "text", Aliases: []string{"m"}, Usage: "Message body"},
			&cli.StringFlag{Name: "metadata", Usage: "Adapter metadata as a JSON object"},
		),
		Action: r.run,
	}
}

func (r *BroadcastRunner) run(ctx context.Context, cmd *cli.Command) error {
	text := cmd.String("text")
	if text == "" {
		return errors.New("--text cannot be empty")
	}

	targets := map[string]string{}
	var channels []model.Channel
	for _, pair := range strings.Split(cmd.String("targets"), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, target, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid target pair %q, want channel=target", pair)
		}
		ch, err := model.ParseChannel(name)
		if err != nil {
			return err
		}
		channels = append(channels, ch)
		targets[name] = target
	}
	if len(channels) == 0 {
		return errors.New("--targets cannot be empty")
	}

	metadata, err := parseJSONMap(cmd.String("metadata"))
	if err != nil {
		return err
	}

	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()

	results := gw.Broadcast(ctx, text, channels, targets, metadata, model.PriorityNormal)
	out := make([]map[string]any, len(results))
	failed := false
	for i, res := range results {
		out[i] = res.ToMap()
		if !res.Success {
			failed = true
		}
	}
	if err := printJSON(map[string]any{"results": out}); err != nil {
		return err
	}
	if failed {
		return cli.Exit("", 1)
	}
	return nil
}

type BatchRunner struct{}

func (r *BatchRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Send messages from a JSONL file, one request object per line",
		Flags: append(globalFlags(),
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Path to the JSONL file"},
		),
		Action: r.run,
	}
}

func (r *BatchRunner) run(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	if path == "" {
		return errors.New("--file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()

	gw, err := newGateway(cmd)
	if err != nil {
		return err
	}
	defer gw.Stop()

	var sent, failed int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var data map[string]any
		if err := sonic.UnmarshalString(line, &data); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: invalid JSON: %v\n", lineNo, err)
			failed++
			continue
		}
		msg, err := gateway.MessageFromRequest(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			failed++
			continue
		}

		result := gw.Send(ctx, msg)
		if result.Success {
			sent++
		} else {
			fmt.Fprintf(os.Stderr, "line %d: send failed: %s\n", lineNo, result.Error)
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}

	fmt.Printf("Batch finished: %d sent, %d failed\n", sent, failed)
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/gateway"
	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
)

var serveHwd = &ServeRunner{}

type ServeRunner struct{}

func (r *ServeRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the REST gateway with every configured channel",
		Flags:  globalFlags(),
		Action: r.run,
	}
}

func (r *ServeRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := logs.Init(logs.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if cfg.Debug {
		logs.SetLogLevel(logs.DebugLevel)
	}

	logs.CtxInfo(ctx, "booting OmniMessage gateway on %s...", cfg.Bind())

	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}
	srv := gateway.NewServer(gw)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	go func() {
		select {
		case sig := <-signalCh:
			logs.CtxInfo(ctx, "received shutdown signal (%s), stopping...", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := srv.Run(ctx); err != nil {
		logs.CtxWarn(ctx, "shutdown: %v", err)
	}
	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/gateway"
)

// globalFlags are shared by every subcommand that touches the pipeline.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML config file",
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "Path to the SQLite database file",
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if db := cmd.String("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}

func defaultConfigPath() string {
	candidates := []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".omni", "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return candidates[0]
}

func newGateway(cmd *cli.Command) (*gateway.Gateway, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

func printJSON(v any) error {
	out, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func parseJSONMap(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON object %q: %w", raw, err)
	}
	return out, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/platoba/OmniMessage-Gateway/internal/template"
)

var templatesHwd = &TemplatesRunner{}

type TemplatesRunner struct{}

func (r *TemplatesRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "Manage message templates",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered and file templates",
				Flags:  globalFlags(),
				Action: r.list,
			},
			{
				Name:  "add",
				Usage: "Save a template into the template directory",
				Flags: append(globalFlags(),
					&cli.StringFlag{Name: "name", Usage: "Template name (file name)"},
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Template source"},
				),
				Action: r.add,
			},
			{
				Name:  "remove",
				Usage: "Delete a template from the template directory",
				Flags: append(globalFlags(),
					&cli.StringFlag{Name: "name", Usage: "Template name (file name)"},
				),
				Action: r.remove,
			},
			{
				Name:  "test",
				Usage: "Render a template with variables and print the result",
				Flags: append(globalFlags(),
					&cli.StringFlag{Name: "name", Usage: "Template name to render"},
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Inline template source"},
					&cli.StringFlag{Name: "vars", Usage: "Template variables as a JSON object"},
				),
				Action: r.test,
			},
		},
	}
}

func (r *TemplatesRunner) engine(cmd *cli.Command) (*template.Engine, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	return template.NewEngine(cfg.TemplateDir), cfg.TemplateDir, nil
}

func (r *TemplatesRunner) list(_ context.Context, cmd *cli.Command) error {
	engine, _, err := r.engine(cmd)
	if err != nil {
		return err
	}
	return printJSON(engine.List())
}

func (r *TemplatesRunner) add(_ context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	source := cmd.String("template")
	if name == "" || source == "" {
		return errors.New("--name and --template are required")
	}
	if filepath.Base(name) != name {
		return fmt.Errorf("invalid template name %q", name)
	}

	engine, dir, err := r.engine(cmd)
	if err != nil {
		return err
	}
	// Parse before persisting so broken templates never land on disk.
	if _, err := engine.RenderString(source, map[string]any{}); err != nil {
		return fmt.Errorf("template does not parse: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	fmt.Printf("Template %q saved to %s\n", name, dir)
	return nil
}

func (r *TemplatesRunner) remove(_ context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	if name == "" || filepath.Base(name) != name {
		return errors.New("--name is required")
	}

	_, dir, err := r.engine(cmd)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("template not found: %s", name)
		}
		return fmt.Errorf("remove template: %w", err)
	}
	fmt.Printf("Template %q removed\n", name)
	return nil
}

func (r *TemplatesRunner) test(_ context.Context, cmd *cli.Command) error {
	vars, err := parseJSONMap(cmd.String("vars"))
	if err != nil {
		return err
	}
	if vars == nil {
		vars = map[string]any{}
	}

	engine, _, err := r.engine(cmd)
	if err != nil {
		return err
	}

	var out string
	switch {
	case cmd.String("template") != "":
		out, err = engine.RenderString(cmd.String("template"), vars)
	case cmd.String("name") != "":
		out, err = engine.Render(cmd.String("name"), vars)
	default:
		return errors.New("--name or --template is required")
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v3"

	"github.com/blingmoon/approval-workflow/internal/commonregister"
	"github.com/blingmoon/approval-workflow/workflow"
)

func idFlag(usage string) *cli.Int64Flag {
	return &cli.Int64Flag{Name: "id", Usage: usage, Required: true}
}

func byFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "by", Usage: "Operator performing the action", Required: true, Sources: cli.EnvVars("WORKFLOW_OPERATOR")}
}

func NewDefinitionCommand() *cli.Command {
	return &cli.Command{
		Name:    "definition",
		Aliases: []string{"def"},
		Usage:   "Manage workflow definitions",
		Commands: []*cli.Command{
			{
				Name:  "load",
				Usage: "Create a definition from a yaml/json file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Definition file", Required: true},
					&cli.BoolFlag{Name: "publish", Usage: "Publish right after creation"},
					byFlag(),
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					b, err := os.ReadFile(cmd.String("file"))
					if err != nil {
						return errors.Wrapf(err, "read definition file failed, path: %s", cmd.String("file"))
					}
					config, err := workflow.ParseDefinitionConfig(b)
					if err != nil {
						return err
					}
					def, err := a.engine.CreateDefinition(ctx, config.ToCreateDefinitionReq(cmd.String("by")))
					if err != nil {
						return err
					}
					if cmd.Bool("publish") {
						def, err = a.engine.PublishDefinition(ctx, &workflow.PublishDefinitionReq{
							DefinitionID: def.ID,
							PublishedBy:  cmd.String("by"),
						})
						if err != nil {
							return printValidationErrors(err)
						}
					}
					return printJSON(def)
				}),
			},
			{
				Name:  "validate",
				Usage: "Validate a stored definition and list every error",
				Flags: []cli.Flag{idFlag("Definition ID")},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					errs, err := a.engine.ValidateDefinition(ctx, cmd.Int64("id"))
					if err != nil {
						return err
					}
					return printJSON(errs)
				}),
			},
			{
				Name:  "publish",
				Usage: "Publish a valid definition",
				Flags: []cli.Flag{idFlag("Definition ID"), byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					def, err := a.engine.PublishDefinition(ctx, &workflow.PublishDefinitionReq{
						DefinitionID: cmd.Int64("id"),
						PublishedBy:  cmd.String("by"),
					})
					if err != nil {
						return printValidationErrors(err)
					}
					return printJSON(def)
				}),
			},
			{
				Name:  "version",
				Usage: "Create a new draft version copied from a definition",
				Flags: []cli.Flag{idFlag("Source definition ID"), byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					def, err := a.engine.CreateDefinitionVersion(ctx, &workflow.CreateDefinitionVersionReq{
						DefinitionID: cmd.Int64("id"),
						CreatedBy:    cmd.String("by"),
					})
					if err != nil {
						return err
					}
					return printJSON(def)
				}),
			},
			{
				Name:  "activate",
				Usage: "Make a version the active one for its name and category",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "category"},
					&cli.Int64Flag{Name: "version", Required: true},
					byFlag(),
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					def, err := a.engine.SetActiveVersion(ctx, &workflow.SetActiveVersionReq{
						Name:        cmd.String("name"),
						Category:    cmd.String("category"),
						Version:     cmd.Int64("version"),
						PerformedBy: cmd.String("by"),
					})
					if err != nil {
						return err
					}
					return printJSON(def)
				}),
			},
			{
				Name:  "delete",
				Usage: "Delete a definition without unfinished instances",
				Flags: []cli.Flag{idFlag("Definition ID"), byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					return a.engine.DeleteDefinition(ctx, &workflow.DeleteDefinitionReq{
						DefinitionID: cmd.Int64("id"),
						DeletedBy:    cmd.String("by"),
					})
				}),
			},
			{
				Name:  "show",
				Usage: "Show a definition, yaml output can be loaded again",
				Flags: []cli.Flag{
					idFlag("Definition ID"),
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "json", Usage: "json or yaml"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					def, err := a.engine.GetDefinition(ctx, cmd.Int64("id"))
					if err != nil {
						return err
					}
					if cmd.String("output") != "yaml" {
						return printJSON(def)
					}
					b, err := workflow.ExportDefinitionConfig(def)
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(b)
					return err
				}),
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List definitions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "category"},
					&cli.BoolFlag{Name: "active", Usage: "Only active versions"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					params := &workflow.QueryWorkflowDefinitionParams{
						Page: &workflow.Pager{IsNoLimit: workflow.Bool(true)},
					}
					if cmd.IsSet("name") {
						params.Name = workflow.String(cmd.String("name"))
					}
					if cmd.IsSet("category") {
						params.Category = workflow.String(cmd.String("category"))
					}
					if cmd.Bool("active") {
						params.IsActive = workflow.Bool(true)
					}
					defs, err := a.engine.QueryDefinitions(ctx, params)
					if err != nil {
						return err
					}
					return printJSON(defs)
				}),
			},
			{
				Name:  "history",
				Usage: "Show the history of a definition",
				Flags: []cli.Flag{idFlag("Definition ID")},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					history, err := a.engine.QueryDefinitionHistory(ctx, &workflow.QueryHistoryParams{
						OwnerID: cmd.Int64("id"),
						Page:    &workflow.Pager{IsNoLimit: workflow.Bool(true)},
					})
					if err != nil {
						return err
					}
					return printJSON(history)
				}),
			},
			{
				Name:  "demo",
				Usage: "Register and publish the built-in leave approval definition",
				Flags: []cli.Flag{byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					def, err := commonregister.RegisterLeaveApprovalDefinition(ctx, a.engine, cmd.String("by"))
					if err != nil {
						return err
					}
					return printJSON(def)
				}),
			},
		},
	}
}

// printValidationErrors 发布失败的时候把全部校验错误打出来
func printValidationErrors(err error) error {
	var invalid *workflow.DefinitionInvalidError
	if errors.As(err, &invalid) {
		for _, e := range invalid.Errors {
			fmt.Fprintln(os.Stderr, e.String())
		}
	}
	return err
}

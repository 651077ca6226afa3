package main

import (
	"context"

	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v3"

	"github.com/blingmoon/approval-workflow/workflow"
)

func instanceIDFlag() *cli.Int64Flag {
	return &cli.Int64Flag{Name: "instance-id", Aliases: []string{"i"}, Required: true}
}

func NewVariableCommand() *cli.Command {
	return &cli.Command{
		Name:    "var",
		Aliases: []string{"variable"},
		Usage:   "Read and change instance variables",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show one variable, or all of them when no key is given",
				Flags: []cli.Flag{instanceIDFlag(), &cli.StringFlag{Name: "key"}},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					instanceID := cmd.Int64("instance-id")
					if !cmd.IsSet("key") {
						values, err := a.engine.GetVariables(ctx, instanceID)
						if err != nil {
							return err
						}
						return printJSON(values)
					}
					value, ok, err := a.engine.GetVariable(ctx, instanceID, cmd.String("key"))
					if err != nil {
						return err
					}
					if !ok {
						return errors.Errorf("variable %s not found on instance %d", cmd.String("key"), instanceID)
					}
					return printJSON(value)
				}),
			},
			{
				Name:  "set",
				Usage: "Set variables, key=value",
				Flags: []cli.Flag{instanceIDFlag(), &cli.StringMapFlag{Name: "var", Required: true}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					values, err := parseValues(cmd.StringMap("var"))
					if err != nil {
						return err
					}
					return a.engine.SetVariables(ctx, &workflow.SetVariablesReq{
						InstanceID: cmd.Int64("instance-id"),
						Values:     values,
						ChangedBy:  cmd.String("by"),
					})
				}),
			},
			{
				Name:  "remove",
				Usage: "Remove a variable",
				Flags: []cli.Flag{instanceIDFlag(), &cli.StringFlag{Name: "key", Required: true}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					return a.engine.RemoveVariable(ctx, &workflow.RemoveVariableReq{
						InstanceID: cmd.Int64("instance-id"),
						Key:        cmd.String("key"),
						ChangedBy:  cmd.String("by"),
					})
				}),
			},
		},
	}
}

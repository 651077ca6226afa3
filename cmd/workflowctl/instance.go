package main

import (
	"context"

	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/blingmoon/approval-workflow/workflow"
)

// parseValues 解析 key=value, value 按 yaml 标量解析, 3 是数字, true 是布尔, 其他是字符串
func parseValues(raw map[string]string) (map[string]any, error) {
	ret := make(map[string]any, len(raw))
	for k, v := range raw {
		var value any
		if err := yaml.Unmarshal([]byte(v), &value); err != nil {
			return nil, errors.Wrapf(err, "invalid value for %s: %s", k, v)
		}
		ret[k] = value
	}
	return ret, nil
}

func NewInstanceCommand() *cli.Command {
	return &cli.Command{
		Name:    "instance",
		Aliases: []string{"inst"},
		Usage:   "Start and control workflow instances",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start an instance from a definition ID or the active version of a name",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "definition-id"},
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "category"},
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringMapFlag{Name: "var", Usage: "Initial variable, key=value"},
					byFlag(),
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					variables, err := parseValues(cmd.StringMap("var"))
					if err != nil {
						return err
					}
					instance, err := a.engine.StartWorkflow(ctx, &workflow.StartWorkflowReq{
						DefinitionID: cmd.Int64("definition-id"),
						Name:         cmd.String("name"),
						Category:     cmd.String("category"),
						Title:        cmd.String("title"),
						InitiatedBy:  cmd.String("by"),
						Variables:    variables,
					})
					if err != nil {
						return err
					}
					return printJSON(instance)
				}),
			},
			{
				Name:  "show",
				Usage: "Show an instance with its tasks and history",
				Flags: []cli.Flag{idFlag("Instance ID")},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					instance, err := a.engine.GetWorkflowInstance(ctx, cmd.Int64("id"))
					if err != nil {
						return err
					}
					return printJSON(instance)
				}),
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List instances",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "definition-id"},
					&cli.StringSliceFlag{Name: "status"},
					&cli.StringFlag{Name: "initiated-by"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					params := &workflow.QueryWorkflowInstanceParams{
						StatusIn: cmd.StringSlice("status"),
						Page:     &workflow.Pager{IsNoLimit: workflow.Bool(true)},
					}
					if cmd.IsSet("definition-id") {
						params.DefinitionID = workflow.Int64(cmd.Int64("definition-id"))
					}
					if cmd.IsSet("initiated-by") {
						params.InitiatedBy = workflow.String(cmd.String("initiated-by"))
					}
					instances, err := a.engine.QueryWorkflowInstances(ctx, params)
					if err != nil {
						return err
					}
					return printJSON(instances)
				}),
			},
			{
				Name:  "cancel",
				Usage: "Cancel a running instance",
				Flags: []cli.Flag{idFlag("Instance ID"), &cli.StringFlag{Name: "reason"}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					instance, err := a.engine.CancelWorkflowInstance(ctx, &workflow.CancelWorkflowInstanceReq{
						InstanceID:  cmd.Int64("id"),
						CancelledBy: cmd.String("by"),
						Reason:      cmd.String("reason"),
					})
					if err != nil {
						return err
					}
					return printJSON(instance)
				}),
			},
			{
				Name:  "suspend",
				Usage: "Suspend a running instance",
				Flags: []cli.Flag{idFlag("Instance ID"), &cli.StringFlag{Name: "reason"}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					instance, err := a.engine.SuspendWorkflowInstance(ctx, &workflow.SuspendWorkflowInstanceReq{
						InstanceID:  cmd.Int64("id"),
						SuspendedBy: cmd.String("by"),
						Reason:      cmd.String("reason"),
					})
					if err != nil {
						return err
					}
					return printJSON(instance)
				}),
			},
			{
				Name:  "resume",
				Usage: "Resume a suspended instance",
				Flags: []cli.Flag{idFlag("Instance ID"), &cli.StringFlag{Name: "reason"}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					instance, err := a.engine.ResumeWorkflowInstance(ctx, &workflow.ResumeWorkflowInstanceReq{
						InstanceID: cmd.Int64("id"),
						ResumedBy:  cmd.String("by"),
						Reason:     cmd.String("reason"),
					})
					if err != nil {
						return err
					}
					return printJSON(instance)
				}),
			},
		},
	}
}

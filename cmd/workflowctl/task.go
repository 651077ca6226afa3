package main

import (
	"context"

	cli "github.com/urfave/cli/v3"

	"github.com/blingmoon/approval-workflow/workflow"
)

func NewTaskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Work on human tasks",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List tasks of an instance or an assignee",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "instance-id"},
					&cli.StringFlag{Name: "assignee"},
					&cli.StringSliceFlag{Name: "status"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					params := &workflow.QueryWorkflowTaskParams{
						StatusIn: cmd.StringSlice("status"),
						Page:     &workflow.Pager{IsNoLimit: workflow.Bool(true)},
					}
					if cmd.IsSet("instance-id") {
						params.InstanceID = workflow.Int64(cmd.Int64("instance-id"))
					}
					if cmd.IsSet("assignee") {
						params.AssignedTo = workflow.String(cmd.String("assignee"))
					}
					tasks, err := a.engine.QueryTasks(ctx, params)
					if err != nil {
						return err
					}
					return printJSON(tasks)
				}),
			},
			{
				Name:  "show",
				Usage: "Show a task with its history",
				Flags: []cli.Flag{idFlag("Task ID")},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					task, err := a.engine.GetTask(ctx, cmd.Int64("id"))
					if err != nil {
						return err
					}
					return printJSON(task)
				}),
			},
			{
				Name:  "assign",
				Usage: "Assign a task to someone",
				Flags: []cli.Flag{idFlag("Task ID"), &cli.StringFlag{Name: "to", Required: true}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					task, err := a.engine.AssignTask(ctx, &workflow.AssignTaskReq{
						TaskID:     cmd.Int64("id"),
						AssignTo:   cmd.String("to"),
						AssignedBy: cmd.String("by"),
					})
					if err != nil {
						return err
					}
					return printJSON(task)
				}),
			},
			{
				Name:  "claim",
				Usage: "Claim a pending task",
				Flags: []cli.Flag{idFlag("Task ID"), byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					task, err := a.engine.ClaimTask(ctx, &workflow.ClaimTaskReq{
						TaskID:    cmd.Int64("id"),
						ClaimedBy: cmd.String("by"),
					})
					if err != nil {
						return err
					}
					return printJSON(task)
				}),
			},
			{
				Name:  "start",
				Usage: "Start working on an assigned task",
				Flags: []cli.Flag{idFlag("Task ID"), byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					task, err := a.engine.StartTask(ctx, &workflow.StartTaskReq{
						TaskID:    cmd.Int64("id"),
						StartedBy: cmd.String("by"),
					})
					if err != nil {
						return err
					}
					return printJSON(task)
				}),
			},
			{
				Name:  "complete",
				Usage: "Approve or reject a task and advance the instance",
				Flags: []cli.Flag{
					idFlag("Task ID"),
					&cli.StringFlag{Name: "action", Value: workflow.TaskActionApprove, Usage: "approve or reject"},
					&cli.StringFlag{Name: "comments"},
					&cli.StringMapFlag{Name: "form", Usage: "Form data, key=value"},
					byFlag(),
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					formData, err := parseValues(cmd.StringMap("form"))
					if err != nil {
						return err
					}
					instance, err := a.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
						TaskID:      cmd.Int64("id"),
						CompletedBy: cmd.String("by"),
						Action:      cmd.String("action"),
						FormData:    formData,
						Comments:    cmd.String("comments"),
					})
					if err != nil {
						return err
					}
					return printJSON(instance)
				}),
			},
			{
				Name:  "withdraw",
				Usage: "Withdraw a task without advancing the instance",
				Flags: []cli.Flag{idFlag("Task ID"), &cli.StringFlag{Name: "reason"}, byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					task, err := a.engine.WithdrawTask(ctx, &workflow.WithdrawTaskReq{
						TaskID:      cmd.Int64("id"),
						WithdrawnBy: cmd.String("by"),
						Reason:      cmd.String("reason"),
					})
					if err != nil {
						return err
					}
					return printJSON(task)
				}),
			},
			{
				Name:  "release",
				Usage: "Give a task back to the pool",
				Flags: []cli.Flag{idFlag("Task ID"), byFlag()},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					task, err := a.engine.ReleaseTask(ctx, &workflow.ReleaseTaskReq{
						TaskID:     cmd.Int64("id"),
						ReleasedBy: cmd.String("by"),
					})
					if err != nil {
						return err
					}
					return printJSON(task)
				}),
			},
		},
	}
}

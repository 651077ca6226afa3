package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "workflowctl",
		Usage:                 "Manage approval workflow definitions, instances and tasks",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the yaml config file",
				Sources: cli.EnvVars("WORKFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "database",
				Usage:   "SQLite database file, overrides database.dsn",
				Sources: cli.EnvVars("WORKFLOW_DATABASE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the distributed lock, local lock when empty",
				Sources: cli.EnvVars("WORKFLOW_REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "default-assignee",
				Usage:   "Assignee for task nodes without configured assignees",
				Sources: cli.EnvVars("WORKFLOW_DEFAULT_ASSIGNEE"),
			},
			&cli.IntFlag{
				Name:    "max-route-hops",
				Usage:   "Maximum nodes visited in one routing pass",
				Sources: cli.EnvVars("WORKFLOW_MAX_ROUTE_HOPS"),
			},
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "Write prometheus metrics in text format to this file after the command",
				Sources: cli.EnvVars("WORKFLOW_METRICS_FILE"),
			},
		},
		Commands: []*cli.Command{
			NewDefinitionCommand(),
			NewInstanceCommand(),
			NewTaskCommand(),
			NewVariableCommand(),
		},
	}
}

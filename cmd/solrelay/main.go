package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solrelay",
		Usage: "Custodial Solana transfer relay CLI",
		Description: `A command-line tool for using and operating the solrelay service.

Use the client commands to query balances and submit transfers over the HTTP API,
and the db, nats and temporal commands to inspect transfer history, events and
reconciliation.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			clientCommands(),
			{
				Name:  "db",
				Usage: "Transfer history commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listTransfersCommand(),
					pendingTransfersCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Reconciliation workflow commands",
				Subcommands: []*cli.Command{
					reconcileResultCommand(),
					reconcilePendingCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "Transfer event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			{
				Name:  "token",
				Usage: "Session token commands",
				Subcommands: []*cli.Command{
					issueTokenCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Relay server URL",
				EnvVars: []string{"SOLRELAY_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer session token for API calls",
				EnvVars: []string{"SOLRELAY_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue for reconciliation",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "solrelay-reconcile",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:  "yaml",
				Usage: "Output in YAML format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Filter JSON output with a jq expression (implies --json)",
			},
		},
	}
}

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A missing .env file is fine; flags and the environment still apply.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "tmhistory",
		Usage: "Cosmos account transaction history from a Tendermint indexer",
		Description: `A command-line tool for reconstructing the transaction history of a Cosmos account.

The indexer only answers conjunctive event queries, so tmhistory runs one query
per way an account can appear in a transaction and merges the results by hash.
Use "fetch" to run the pipeline locally, "server" to talk to a running tmhistory
server and "workflow" to start durable fetches on Temporal.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Local pipeline commands
			fetchCommand(),
			summaryCommand(),
			planCommand(),
			anglesCommand(),
			// Client commands (HTTP API)
			serverCommands(),
			// Temporal commands
			workflowCommands(),
			// NATS event streaming commands
			natsCommands(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

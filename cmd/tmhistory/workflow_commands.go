package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/tmhistory/service/temporal"
	"github.com/urfave/cli/v2"
)

func workflowCommands() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "Start and inspect durable fetches on Temporal",
		Flags: []cli.Flag{
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
				Name:    "task-queue",
				Usage:   "Temporal task queue served by the worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "tmhistory",
			},
		},
		Subcommands: []*cli.Command{
			workflowStartCommand(),
			workflowResultCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	cl, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		newLogger(c.String("log-level")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return cl, nil
}

func workflowStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a FetchHistoryWorkflow for an account",
		ArgsUsage: "[ACCOUNT]",
		Flags: []cli.Flag{
			accountFlag(),
			anglesFlag(),
			&cli.Int64Flag{Name: "min-height", Usage: "Lower height bound"},
			&cli.Int64Flag{Name: "max-height", Usage: "Upper height bound"},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish the resulting transfers to NATS",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the workflow finishes and print its result",
			},
			&cli.DurationFlag{
				Name:  "wait-timeout",
				Usage: "How long --wait blocks",
				Value: 30 * time.Minute,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			req, err := requestFromFlags(c)
			if err != nil {
				return err
			}

			cl, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			workflowID, runID, err := cl.WithPublish(c.Bool("publish")).StartFetchHistory(c.Context, req)
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return printJSON(os.Stdout, map[string]string{"workflow_id": workflowID, "run_id": runID})
				}
				fmt.Printf("Workflow ID: %s\n", workflowID)
				fmt.Printf("Run ID:      %s\n", runID)
				return nil
			}

			fmt.Fprintf(os.Stderr, "Waiting for workflow %s...\n", workflowID)
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait-timeout"))
			defer cancel()
			return printWorkflowResult(ctx, c, cl, workflowID, runID)
		},
	}
}

func workflowResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a workflow and print its result",
		ArgsUsage: "<workflow-id> [run-id]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the workflow",
				Value: 30 * time.Minute,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return fmt.Errorf("requires a workflow ID and an optional run ID")
			}

			cl, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer cl.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			return printWorkflowResult(ctx, c, cl, c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func printWorkflowResult(ctx context.Context, c *cli.Context, cl *temporal.Client, workflowID, runID string) error {
	result, err := cl.GetFetchHistoryResult(ctx, workflowID, runID)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(os.Stdout, result)
	}

	fmt.Printf("Workflow ID:  %s\n", workflowID)
	fmt.Printf("Run ID:       %s\n", result.RunID)
	fmt.Printf("Account:      %s\n", result.Account)
	fmt.Printf("Complete:     %v\n", result.Complete)
	fmt.Printf("Transactions: %d (%d duplicates, %d dropped)\n", result.TransactionCount, result.Duplicates, result.Dropped)
	fmt.Printf("Published:    %v\n\n", result.Published)
	printQueries(os.Stdout, result.Queries)
	fmt.Println()
	printSummary(os.Stdout, &result.Summary)
	return nil
}

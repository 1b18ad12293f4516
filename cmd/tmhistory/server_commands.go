package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/tmhistory/client"
	"github.com/urfave/cli/v2"
)

func serverCommands() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Query a running tmhistory server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"TMHISTORY_SERVER_URL"},
			},
		},
		Subcommands: []*cli.Command{
			serverHistoryCommand(),
			serverSummaryCommand(),
			serverAnglesCommand(),
			serverWorkflowCommand(),
			healthCommand(),
			versionCommand(),
		},
	}
}

func serverRequestFlags() []cli.Flag {
	return []cli.Flag{
		accountFlag(),
		anglesFlag(),
		&cli.Int64Flag{Name: "min-height", Usage: "Lower height bound"},
		&cli.Int64Flag{Name: "max-height", Usage: "Upper height bound"},
		&cli.BoolFlag{Name: "refresh", Usage: "Bypass the server's report cache"},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Request timeout",
			Value:   10 * time.Minute,
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output as JSON",
		},
	}
}

// historyOptions reads the request flags shared by server subcommands.
func historyOptions(c *cli.Context) (string, client.HistoryOptions, error) {
	account, err := accountArg(c)
	if err != nil {
		return "", client.HistoryOptions{}, err
	}
	return account, client.HistoryOptions{
		Angles:    splitAngles(c.StringSlice("angles")),
		MinHeight: c.Int64("min-height"),
		MaxHeight: c.Int64("max-height"),
		Refresh:   c.Bool("refresh"),
	}, nil
}

func newAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server"), nil, newLogger(c.String("log-level")))
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	timeout := c.Duration("timeout")
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return context.WithTimeout(c.Context, timeout)
}

func serverHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Fetch an account's history through the server",
		ArgsUsage: "[ACCOUNT]",
		Flags:     append(serverRequestFlags(), jqFlag()),
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}
			account, opts, err := historyOptions(c)
			if err != nil {
				return err
			}

			ctx, cancel := requestContext(c)
			defer cancel()

			report, err := newAPIClient(c).GetHistory(ctx, account, opts)
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}

			switch {
			case filter != nil:
				return printJQ(os.Stdout, filter, report)
			case c.Bool("json"):
				return printJSON(os.Stdout, report)
			default:
				printReport(os.Stdout, report)
				return nil
			}
		},
	}
}

func serverSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "Fetch an account's summary through the server",
		ArgsUsage: "[ACCOUNT]",
		Flags:     serverRequestFlags(),
		Action: func(c *cli.Context) error {
			account, opts, err := historyOptions(c)
			if err != nil {
				return err
			}

			ctx, cancel := requestContext(c)
			defer cancel()

			summary, err := newAPIClient(c).GetSummary(ctx, account, opts)
			if err != nil {
				return fmt.Errorf("failed to get summary: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, summary)
			}
			printSummary(os.Stdout, summary)
			return nil
		},
	}
}

func serverAnglesCommand() *cli.Command {
	return &cli.Command{
		Name:  "angles",
		Usage: "List the query angles the server knows about",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			catalogue, err := newAPIClient(c).ListAngles(ctx)
			if err != nil {
				return fmt.Errorf("failed to list angles: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, catalogue)
			}
			printAngles(os.Stdout, catalogue.Angles, catalogue.Defaults)
			return nil
		},
	}
}

func serverWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "start-workflow",
		Usage:     "Ask the server to start a durable fetch workflow",
		ArgsUsage: "[ACCOUNT]",
		Flags:     serverRequestFlags(),
		Action: func(c *cli.Context) error {
			account, opts, err := historyOptions(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			run, err := newAPIClient(c).StartWorkflow(ctx, account, opts)
			if err != nil {
				return fmt.Errorf("failed to start workflow: %w", err)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, run)
			}
			fmt.Printf("Workflow ID: %s\n", run.WorkflowID)
			fmt.Printf("Run ID:      %s\n", run.RunID)
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server")
			if serverURL == "" {
				return fmt.Errorf("server is required (set TMHISTORY_SERVER_URL env var or use --server)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Printf("✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Printf("  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("tmhistory CLI\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			return nil
		},
	}
}

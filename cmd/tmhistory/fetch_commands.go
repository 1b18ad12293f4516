package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/urfave/cli/v2"
)

// pipelineFlags configure a local fetch against an indexer.
func pipelineFlags() []cli.Flag {
	defaults := txsearch.DefaultExecutorConfig()
	return []cli.Flag{
		accountFlag(),
		anglesFlag(),
		&cli.StringFlag{
			Name:    "backend",
			Aliases: []string{"b"},
			Usage:   "Indexer backend (rpc or rest)",
			EnvVars: []string{"QUERY_BACKEND"},
			Value:   "rpc",
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Aliases: []string{"e"},
			Usage:   "Base URL of the Tendermint RPC or Cosmos REST endpoint",
			EnvVars: []string{"TMHISTORY_ENDPOINT", "TENDERMINT_RPC_URL"},
		},
		&cli.Int64Flag{
			Name:  "min-height",
			Usage: "Only include transactions at or above this height",
		},
		&cli.Int64Flag{
			Name:  "max-height",
			Usage: "Only include transactions at or below this height",
		},
		&cli.IntFlag{
			Name:  "page-size",
			Usage: fmt.Sprintf("Records per page (1-%d)", txsearch.MaxPageSize),
			Value: defaults.PageSize,
		},
		&cli.StringFlag{
			Name:  "order",
			Usage: "Page ordering (asc or desc)",
			Value: string(defaults.Order),
		},
		&cli.IntFlag{
			Name:  "max-records",
			Usage: "Stop each query after this many records (0 means no cap)",
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Queries run at once",
			Value:   4,
		},
		&cli.StringFlag{
			Name:    "encoding",
			Usage:   "Event attribute encoding (auto, base64 or plain)",
			EnvVars: []string{"ATTRIBUTE_ENCODING"},
			Value:   string(cosmos.EncodingAuto),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Overall deadline for the fetch",
			Value:   5 * time.Minute,
		},
	}
}

func accountFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "account",
		Aliases: []string{"a"},
		Usage:   "Bech32 account address",
	}
}

func anglesFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "angles",
		Usage: "Angle or group names to query (default: core)",
	}
}

// accountArg returns --account or, failing that, the first positional
// argument.
func accountArg(c *cli.Context) (string, error) {
	account := c.String("account")
	if account == "" {
		account = c.Args().First()
	}
	if account == "" {
		return "", fmt.Errorf("--account is required")
	}
	return account, nil
}

// requestFromFlags builds a history request from the common flags.
func requestFromFlags(c *cli.Context) (history.Request, error) {
	account, err := accountArg(c)
	if err != nil {
		return history.Request{}, err
	}
	return history.Request{
		Account:   account,
		Angles:    splitAngles(c.StringSlice("angles")),
		MinHeight: c.Int64("min-height"),
		MaxHeight: c.Int64("max-height"),
	}, nil
}

// splitAngles accepts both repeated flags and comma separated values.
func splitAngles(values []string) []string {
	var out []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// newFetcher wires the local pipeline from flags.
func newFetcher(c *cli.Context, logger *slog.Logger) (*history.Fetcher, error) {
	endpoint := c.String("endpoint")
	if endpoint == "" {
		return nil, fmt.Errorf("--endpoint is required (or set TMHISTORY_ENDPOINT)")
	}

	execCfg := txsearch.DefaultExecutorConfig()
	execCfg.PageSize = c.Int("page-size")
	if execCfg.PageSize < 1 || execCfg.PageSize > txsearch.MaxPageSize {
		return nil, fmt.Errorf("--page-size must be between 1 and %d, got %d", txsearch.MaxPageSize, execCfg.PageSize)
	}
	order, err := txsearch.ParseOrder(c.String("order"))
	if err != nil {
		return nil, err
	}
	execCfg.Order = order
	execCfg.MaxRecords = c.Int("max-records")

	encoding, err := cosmos.ParseAttributeEncoding(c.String("encoding"))
	if err != nil {
		return nil, err
	}

	source, err := txsearch.NewSource(c.String("backend"), endpoint, &http.Client{})
	if err != nil {
		return nil, err
	}

	executor := txsearch.NewExecutor(source, execCfg, nil, logger)
	aggregator := txsearch.NewAggregator(executor, cosmos.NewDecoder(encoding), c.Int("concurrency"), nil, logger)

	return history.NewFetcher(aggregator, history.Config{
		Backend: source.Name(),
		Timeout: c.Duration("timeout"),
	}, nil, nil, logger), nil
}

// runFetch executes the local pipeline, cancelling on interrupt.
func runFetch(c *cli.Context) (*history.Report, error) {
	logger := newLogger(c.String("log-level"))

	req, err := requestFromFlags(c)
	if err != nil {
		return nil, err
	}
	fetcher, err := newFetcher(c, logger)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	if !report.Complete {
		fmt.Fprintf(os.Stderr, "warning: %d of %d queries did not complete, history may be partial\n",
			countIncomplete(report.Queries), len(report.Queries))
	}
	return report, nil
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch the full transaction history of an account",
		ArgsUsage: "[ACCOUNT]",
		Flags: append(pipelineFlags(),
			jqFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output the full report as JSON",
			},
		),
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			report, err := runFetch(c)
			if err != nil {
				return err
			}

			if filter != nil {
				return printJQ(os.Stdout, filter, report)
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, report)
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "Fetch an account's history and print only its summary",
		ArgsUsage: "[ACCOUNT]",
		Flags: append(pipelineFlags(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output the summary as JSON",
			},
		),
		Action: func(c *cli.Context) error {
			report, err := runFetch(c)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(os.Stdout, report.Summary)
			}
			printSummary(os.Stdout, &report.Summary)
			return nil
		},
	}
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Print the indexer queries a fetch would run",
		ArgsUsage: "[ACCOUNT]",
		Flags: []cli.Flag{
			accountFlag(),
			anglesFlag(),
			&cli.Int64Flag{Name: "min-height", Usage: "Lower height bound"},
			&cli.Int64Flag{Name: "max-height", Usage: "Upper height bound"},
		},
		Action: func(c *cli.Context) error {
			req, err := requestFromFlags(c)
			if err != nil {
				return err
			}
			specs, err := history.Plan(req, txsearch.DefaultAngles())
			if err != nil {
				return err
			}
			printPlan(os.Stdout, specs)
			return nil
		},
	}
}

func anglesCommand() *cli.Command {
	return &cli.Command{
		Name:  "angles",
		Usage: "List the query angles and their groups",
		Action: func(c *cli.Context) error {
			printAngles(os.Stdout, txsearch.Catalogue(), txsearch.DefaultAngles())
			return nil
		},
	}
}

func countIncomplete(outcomes []txsearch.QueryOutcome) int {
	n := 0
	for _, q := range outcomes {
		if q.Status != txsearch.StatusComplete {
			n++
		}
	}
	return n
}

// newLogger creates a text logger on stderr so stdout stays parseable.
func newLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

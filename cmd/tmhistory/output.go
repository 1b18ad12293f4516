package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func jqFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "jq",
		Usage: "Filter the JSON output through a jq expression, e.g. '.transactions[] | select(.success | not) | .hash'",
	}
}

// compileJQ parses and compiles filter. An empty filter returns nil.
func compileJQ(filter string) (*gojq.Code, error) {
	if filter == "" {
		return nil, nil
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ evaluates code against v. v is round-tripped through JSON first
// because gojq only understands plain maps, slices and scalars.
func runJQ(code *gojq.Code, v any) ([]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	var out []any
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		out = append(out, result)
	}
	return out, nil
}

// printJQ prints every result of code on its own line. Strings are printed
// raw so results can be piped into other tools.
func printJQ(w io.Writer, code *gojq.Code, v any) error {
	results, err := runJQ(code, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printReport(w io.Writer, report *history.Report) {
	fmt.Fprintf(w, "Account:      %s\n", report.Account)
	fmt.Fprintf(w, "Run ID:       %s\n", report.RunID)
	if report.Backend != "" {
		fmt.Fprintf(w, "Backend:      %s\n", report.Backend)
	}
	fmt.Fprintf(w, "Complete:     %v\n", report.Complete)
	fmt.Fprintf(w, "Transactions: %d (%d duplicates merged)\n\n", len(report.Transactions), report.Duplicates)

	if len(report.Transactions) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "HEIGHT\tHASH\tTIME\tSTATUS\tMESSAGES\tTRANSFERS")
		for _, tx := range report.Transactions {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				tx.Height,
				tx.Hash,
				timestampOrDash(tx.Timestamp),
				txStatus(tx.Transaction),
				messageKinds(tx.Messages),
				formatTransfers(tx.Transfers),
			)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	printQueries(w, report.Queries)
	fmt.Fprintln(w)
	printSummary(w, &report.Summary)
}

func printQueries(w io.Writer, queries []txsearch.QueryOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUERY\tSTATUS\tRECORDS\tPAGES\tREQUESTS\tERROR")
	for _, q := range queries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", q.Name, q.Status, q.Records, q.Pages, q.Requests, q.Error)
	}
	tw.Flush()
}

func printSummary(w io.Writer, s *cosmos.Summary) {
	fmt.Fprintf(w, "Total:     %d (%d succeeded, %d failed)\n", s.Total, s.Succeeded, s.Failed)
	fmt.Fprintf(w, "Direction: %d sent, %d received, %d related\n", s.Sent, s.Received, s.Related)
	if s.First != nil {
		fmt.Fprintf(w, "First:     %s at height %d (%s)\n", s.First.Hash, s.First.Height, timestampOrDash(s.First.Timestamp))
	}
	if s.Last != nil {
		fmt.Fprintf(w, "Last:      %s at height %d (%s)\n", s.Last.Hash, s.Last.Height, timestampOrDash(s.Last.Timestamp))
	}

	if len(s.Denoms) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DENOM\tSENT\tRECEIVED")
		for _, denom := range slices.Sorted(maps.Keys(s.Denoms)) {
			t := s.Denoms[denom]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", denom, t.Sent, t.Received)
		}
		tw.Flush()
	}

	if len(s.MessageTypes) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MESSAGE TYPE\tCOUNT")
		for _, typ := range slices.Sorted(maps.Keys(s.MessageTypes)) {
			fmt.Fprintf(tw, "%s\t%d\n", typ, s.MessageTypes[typ])
		}
		tw.Flush()
	}
}

func printPlan(w io.Writer, specs []txsearch.QuerySpec) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tQUERY")
	for _, spec := range specs {
		fmt.Fprintf(tw, "%s\t%s\n", spec.Name(), spec.String())
	}
	tw.Flush()
}

func printAngles(w io.Writer, angles, defaults []txsearch.Angle) {
	isDefault := map[string]bool{}
	for _, a := range defaults {
		isDefault[a.Name] = true
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tGROUP\tEVENT KEY\tDEFAULT")
	for _, a := range angles {
		def := ""
		if isDefault[a.Name] {
			def = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Group, a.EventKey, def)
	}
	tw.Flush()
}

func txStatus(tx *cosmos.Transaction) string {
	if tx.Success {
		return "ok"
	}
	if tx.Codespace != "" {
		return fmt.Sprintf("failed (%s/%d)", tx.Codespace, tx.Code)
	}
	return fmt.Sprintf("failed (%d)", tx.Code)
}

func messageKinds(msgs []cosmos.Message) string {
	if len(msgs) == 0 {
		return "-"
	}
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = shortType(m.Type)
	}
	return strings.Join(parts, ",")
}

// shortType trims a type URL to its final segment.
func shortType(typeURL string) string {
	if i := strings.LastIndexAny(typeURL, "./"); i >= 0 && i < len(typeURL)-1 {
		return typeURL[i+1:]
	}
	if typeURL == "" {
		return "?"
	}
	return typeURL
}

func formatTransfers(transfers []cosmos.Transfer) string {
	if len(transfers) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(transfers))
	for _, t := range transfers {
		sign := ""
		switch t.Direction {
		case cosmos.DirectionSent:
			sign = "-"
		case cosmos.DirectionReceived:
			sign = "+"
		}
		parts = append(parts, sign+formatCoins(t.Amount))
	}
	return strings.Join(parts, " ")
}

func formatCoins(coins []cosmos.Coin) string {
	if len(coins) == 0 {
		return "0"
	}
	return cosmos.FormatCoins(coins)
}

func timestampOrDash(ts *string) string {
	if ts == nil || *ts == "" {
		return "-"
	}
	return *ts
}

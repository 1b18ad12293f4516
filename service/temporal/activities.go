package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/brojonat/tmhistory/service/txsearch"
)

// FetchHistoryInput contains the input parameters for fetching an account's
// history.
type FetchHistoryInput struct {
	Account   string   `json:"account"`
	Angles    []string `json:"angles,omitempty"` // Empty uses the default angles
	MinHeight int64    `json:"min_height,omitempty"`
	MaxHeight int64    `json:"max_height,omitempty"`
	Publish   bool     `json:"publish"` // Publish transfers to NATS when done
}

// FetchHistoryResult contains the result of a history fetch.
type FetchHistoryResult struct {
	RunID            string                  `json:"run_id"`
	Account          string                  `json:"account"`
	Complete         bool                    `json:"complete"`
	TransactionCount int                     `json:"transaction_count"`
	Duplicates       int                     `json:"duplicates"`
	Dropped          int                     `json:"dropped"`
	Queries          []txsearch.QueryOutcome `json:"queries"`
	Summary          cosmos.Summary          `json:"summary"`
	Published        bool                    `json:"published"`
}

// RunQueryInput contains parameters for the RunQuery activity. The query is
// rebuilt from the angle name because query specs are not serializable.
type RunQueryInput struct {
	Account   string `json:"account"`
	Angle     string `json:"angle"`
	MinHeight int64  `json:"min_height,omitempty"`
	MaxHeight int64  `json:"max_height,omitempty"`
}

// RunQueryResult contains the records of one query and how it went.
type RunQueryResult struct {
	Outcome txsearch.QueryOutcome `json:"outcome"`
	Records []cosmos.RawRecord    `json:"records"`
}

// BuildReportInput contains parameters for the BuildReport activity.
type BuildReportInput struct {
	RunID      string                  `json:"run_id"`
	Account    string                  `json:"account"`
	Records    []cosmos.RawRecord      `json:"records"`
	Queries    []txsearch.QueryOutcome `json:"queries"`
	Duplicates int                     `json:"duplicates"`
	StartedAt  time.Time               `json:"started_at"`
}

// PublishReportInput contains parameters for the PublishReport activity.
type PublishReportInput struct {
	Report *history.Report `json:"report"`
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	executor  txsearch.QueryExecutor
	decoder   *cosmos.Decoder
	publisher history.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If publisher is nil, PublishReport is a no-op. If metrics is nil, no
// metrics will be recorded.
func NewActivities(executor txsearch.QueryExecutor, decoder *cosmos.Decoder, publisher history.Publisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = cosmos.NewDecoder(cosmos.EncodingAuto)
	}
	return &Activities{
		executor:  executor,
		decoder:   decoder,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// RunQuery walks every page of one query angle. A query that fails after
// its retries is not an activity error: the failure is reported in the
// outcome together with the records fetched before it.
func (a *Activities) RunQuery(ctx context.Context, input RunQueryInput) (*RunQueryResult, error) {
	start := time.Now()
	defer a.recordDuration("RunQuery", start)

	specs, err := history.Plan(history.Request{
		Account:   input.Account,
		Angles:    []string{input.Angle},
		MinHeight: input.MinHeight,
		MaxHeight: input.MaxHeight,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid query input: %w", err)
	}
	if len(specs) != 1 {
		return nil, fmt.Errorf("angle %q expands to %d queries, want 1", input.Angle, len(specs))
	}

	res, err := a.executor.Execute(ctx, specs[0])
	outcome := txsearch.NewOutcome(res, err)
	if a.metrics != nil {
		a.metrics.RecordQueryOutcome(outcome.Name, string(outcome.Status), outcome.Records)
	}

	a.logger.InfoContext(ctx, "query finished",
		"account", input.Account,
		"query", outcome.Name,
		"status", outcome.Status,
		"records", outcome.Records,
		"pages", outcome.Pages,
	)

	records := res.Records
	if records == nil {
		records = []cosmos.RawRecord{}
	}
	return &RunQueryResult{Outcome: outcome, Records: records}, nil
}

// BuildReport decodes merged records and assembles the final report.
func (a *Activities) BuildReport(ctx context.Context, input BuildReportInput) (*history.Report, error) {
	start := time.Now()
	defer a.recordDuration("BuildReport", start)

	set := cosmos.TransactionSet{}
	for _, raw := range input.Records {
		tx := a.decoder.Decode(raw)
		set.Add(tx)
		if len(tx.DecodeIssues) > 0 && a.metrics != nil {
			a.metrics.RecordDecodeIssue(a.executor.Backend())
		}
	}

	report := history.BuildReport(input.Account, set, input.Queries)
	if input.RunID != "" {
		report.RunID = input.RunID
	}
	report.Backend = a.executor.Backend()
	report.Duplicates = input.Duplicates

	status := "complete"
	if !report.Complete {
		status = "partial"
	}
	if a.metrics != nil {
		a.metrics.RecordMerge(report.Backend, len(set), input.Duplicates)
		if !input.StartedAt.IsZero() {
			a.metrics.RecordWorkflowDuration(status, time.Since(input.StartedAt).Seconds())
		}
	}

	a.logger.InfoContext(ctx, "report built",
		"account", input.Account,
		"run_id", report.RunID,
		"status", status,
		"transactions", len(report.Transactions),
	)
	return report, nil
}

// PublishReport sends the report's transfers to the configured publisher.
func (a *Activities) PublishReport(ctx context.Context, input PublishReportInput) error {
	start := time.Now()
	defer a.recordDuration("PublishReport", start)

	if input.Report == nil {
		return fmt.Errorf("report is required")
	}
	if a.publisher == nil {
		a.logger.WarnContext(ctx, "no publisher configured, skipping report publish",
			"run_id", input.Report.RunID,
		)
		return nil
	}
	if err := a.publisher.PublishReport(ctx, input.Report); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}

	a.logger.InfoContext(ctx, "report published",
		"account", input.Report.Account,
		"run_id", input.Report.RunID,
	)
	return nil
}

func (a *Activities) recordDuration(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

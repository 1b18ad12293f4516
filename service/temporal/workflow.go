package temporal

import (
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// FetchHistoryWorkflow reconstructs the history of one account.
//
// The workflow performs these steps:
// 1. Resolve the query angles (pure, so it runs inside the workflow)
// 2. Run one RunQuery activity per angle, all in parallel
// 3. Merge the raw records by transaction hash, first seen wins
// 4. Decode and summarize (BuildReport activity)
// 5. Optionally publish the transfers (PublishReport activity)
//
// A query that fails never fails the workflow. It shows up in the result as
// a non-complete outcome and the report is marked incomplete.
func FetchHistoryWorkflow(ctx workflow.Context, input FetchHistoryInput) (*FetchHistoryResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("FetchHistoryWorkflow started", "account", input.Account)

	startedAt := workflow.Now(ctx)

	req := history.Request{
		Account:   input.Account,
		Angles:    input.Angles,
		MinHeight: input.MinHeight,
		MaxHeight: input.MaxHeight,
	}
	specs, err := history.Plan(req, nil)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("invalid request", "InvalidRequest", err)
	}

	// Pagination and per-page retries happen inside RunQuery, so a retry
	// here only covers worker crashes and timeouts.
	queryCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    2,
		},
	})

	futures := make([]workflow.Future, len(specs))
	for i, spec := range specs {
		futures[i] = workflow.ExecuteActivity(queryCtx, a.RunQuery, RunQueryInput{
			Account:   input.Account,
			Angle:     spec.Name(),
			MinHeight: input.MinHeight,
			MaxHeight: input.MaxHeight,
		})
	}

	// Futures are drained in plan order so the merge is deterministic.
	seen := map[string]bool{}
	var records []cosmos.RawRecord
	outcomes := make([]txsearch.QueryOutcome, len(specs))
	duplicates, dropped := 0, 0

	for i, f := range futures {
		var res RunQueryResult
		if err := f.Get(ctx, &res); err != nil {
			logger.Warn("query activity failed", "query", specs[i].Name(), "error", err)
			outcomes[i] = txsearch.QueryOutcome{
				Name:       specs[i].Name(),
				Expression: specs[i].String(),
				Status:     txsearch.StatusFailed,
				Error:      err.Error(),
			}
			continue
		}
		outcomes[i] = res.Outcome

		for _, raw := range res.Records {
			hash := cosmos.RecordHash(raw)
			switch {
			case hash == "":
				dropped++
			case seen[hash]:
				duplicates++
			default:
				seen[hash] = true
				records = append(records, raw)
			}
		}
	}

	logger.Info("queries merged",
		"account", input.Account,
		"queries", len(specs),
		"records", len(records),
		"duplicates", duplicates,
		"dropped", dropped,
	)

	reportCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var report *history.Report
	err = workflow.ExecuteActivity(reportCtx, a.BuildReport, BuildReportInput{
		RunID:      workflow.GetInfo(ctx).WorkflowExecution.RunID,
		Account:    input.Account,
		Records:    records,
		Queries:    outcomes,
		Duplicates: duplicates,
		StartedAt:  startedAt,
	}).Get(ctx, &report)
	if err != nil {
		logger.Error("failed to build report", "account", input.Account, "error", err)
		return nil, err
	}

	result := &FetchHistoryResult{
		RunID:            report.RunID,
		Account:          report.Account,
		Complete:         report.Complete,
		TransactionCount: len(report.Transactions),
		Duplicates:       duplicates,
		Dropped:          dropped,
		Queries:          report.Queries,
		Summary:          report.Summary,
	}

	if input.Publish {
		err = workflow.ExecuteActivity(reportCtx, a.PublishReport, PublishReportInput{Report: report}).Get(ctx, nil)
		if err != nil {
			// Publishing is best effort; the history itself is done.
			logger.Warn("failed to publish report", "run_id", report.RunID, "error", err)
		} else {
			result.Published = true
		}
	}

	logger.Info("FetchHistoryWorkflow completed",
		"account", input.Account,
		"complete", result.Complete,
		"transaction_count", result.TransactionCount,
	)

	return result, nil
}

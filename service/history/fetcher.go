package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/brojonat/tmhistory/service/txsearch"
)

// ErrInvalidRequest wraps every error caused by a malformed Request.
var ErrInvalidRequest = errors.New("invalid request")

// Request selects what to fetch. Empty Angles uses the fetcher's defaults;
// zero heights leave the range open.
type Request struct {
	Account   string   `json:"account"`
	Angles    []string `json:"angles,omitempty"`
	MinHeight int64    `json:"min_height,omitempty"`
	MaxHeight int64    `json:"max_height,omitempty"`
}

// Plan returns the queries covering req.
func Plan(req Request, defaults []txsearch.Angle) ([]txsearch.QuerySpec, error) {
	if err := ValidateAccount(req.Account); err != nil {
		return nil, err
	}
	if req.MinHeight < 0 || req.MaxHeight < 0 {
		return nil, fmt.Errorf("heights must not be negative")
	}
	if req.MaxHeight > 0 && req.MinHeight > req.MaxHeight {
		return nil, fmt.Errorf("min_height (%d) cannot be greater than max_height (%d)", req.MinHeight, req.MaxHeight)
	}

	angles := defaults
	if len(req.Angles) > 0 {
		var err error
		angles, err = txsearch.AnglesFor(req.Angles...)
		if err != nil {
			return nil, err
		}
	}

	return txsearch.NewPlanner(angles...).WithHeightRange(req.MinHeight, req.MaxHeight).Plan(req.Account), nil
}

// Aggregator runs a set of queries and merges their records.
type Aggregator interface {
	Aggregate(ctx context.Context, specs []txsearch.QuerySpec) txsearch.Result
}

// Publisher receives every report produced by a Fetcher.
type Publisher interface {
	PublishReport(ctx context.Context, report *Report) error
}

// Config configures a Fetcher.
type Config struct {
	Backend string
	Angles  []txsearch.Angle
	// Timeout bounds a whole fetch. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Fetcher runs the full pipeline for one account: plan, aggregate, decode,
// extract transfers and summarize.
type Fetcher struct {
	aggregator Aggregator
	cfg        Config
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewFetcher creates a fetcher. publisher and m may be nil.
func NewFetcher(agg Aggregator, cfg Config, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Angles) == 0 {
		cfg.Angles = txsearch.DefaultAngles()
	}
	return &Fetcher{
		aggregator: agg,
		cfg:        cfg,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.With("component", "fetcher"),
	}
}

// Plan returns the queries Fetch would run for req.
func (f *Fetcher) Plan(req Request) ([]txsearch.QuerySpec, error) {
	return Plan(req, f.cfg.Angles)
}

// Fetch returns the best-effort history of req.Account. Failed queries are
// listed in the report; only an invalid request is an error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Report, error) {
	specs, err := f.Plan(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	f.logger.InfoContext(ctx, "fetching account history",
		"account", req.Account,
		"queries", len(specs),
		"min_height", req.MinHeight,
		"max_height", req.MaxHeight,
	)

	res := f.aggregator.Aggregate(ctx, specs)
	report := BuildReport(req.Account, res.Transactions, res.Queries)
	report.Backend = f.cfg.Backend
	report.Duplicates = res.Duplicates
	report.Dropped = res.Dropped

	status := "complete"
	if !report.Complete {
		status = "partial"
	}
	if f.metrics != nil {
		f.metrics.RecordFetch(status, time.Since(start).Seconds())
	}

	f.logger.InfoContext(ctx, "fetched account history",
		"account", req.Account,
		"run_id", report.RunID,
		"status", status,
		"transactions", len(report.Transactions),
		"dropped", report.Dropped,
		"duration", time.Since(start),
	)

	if f.publisher != nil {
		// Publish with a fresh deadline so a fetch that used up its
		// timeout still delivers its report.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := f.publisher.PublishReport(pubCtx, report); err != nil {
			f.logger.ErrorContext(ctx, "failed to publish report",
				"account", req.Account,
				"run_id", report.RunID,
				"error", err,
			)
		}
	}

	return report, nil
}

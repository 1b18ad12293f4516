package txsearch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/sethvargo/go-retry"
)

// MaxPageSize is the largest page the indexer accepts.
const MaxPageSize = 100

// ExecutorConfig controls pagination and retry behaviour.
type ExecutorConfig struct {
	PageSize int
	Order    Order
	// MaxRecords caps the records collected per query. Zero means no cap.
	MaxRecords int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	PageDelay      time.Duration
	RequestTimeout time.Duration
}

// DefaultExecutorConfig returns the settings public nodes tolerate.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		PageSize:       MaxPageSize,
		Order:          OrderDesc,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
		PageDelay:      250 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
	}
}

// Status is the final state of one query.
type Status string

const (
	StatusComplete    Status = "complete"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
	StatusSkipped     Status = "skipped"
)

// QueryResult holds the records of one query, including the ones collected
// before a failure.
type QueryResult struct {
	Spec     QuerySpec
	Records  []cosmos.RawRecord
	Pages    int
	Requests int
	Status   Status
	Err      error
}

// Executor walks all pages of a query against one source.
type Executor struct {
	source  Source
	cfg     ExecutorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewExecutor creates an executor. Zero config fields take their defaults.
func NewExecutor(source Source, cfg ExecutorConfig, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultExecutorConfig()
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = def.PageSize
	}
	if cfg.Order == "" {
		cfg.Order = def.Order
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Executor{
		source:  source,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "executor", "backend", source.Name()),
	}
}

// Backend names the executor's source.
func (e *Executor) Backend() string { return e.source.Name() }

// Execute fetches every page of spec. It always returns the records
// collected so far; the error is a *QueryError when the query stopped early.
func (e *Executor) Execute(ctx context.Context, spec QuerySpec) (QueryResult, error) {
	res := QueryResult{Spec: spec, Status: StatusComplete}
	cursor := Cursor{Page: 1, PerPage: e.cfg.PageSize, Order: e.cfg.Order}

	e.logger.DebugContext(ctx, "executing query", "query", spec.Name(), "expression", spec.String())

	for {
		page, err := e.fetchPage(ctx, spec, cursor, &res)
		if err != nil {
			var shapeErr *EnvelopeShapeError
			if errors.As(err, &shapeErr) {
				e.logger.WarnContext(ctx, "unrecognized response, treating as empty page",
					"query", spec.Name(),
					"page", cursor.Page,
					"error", err,
				)
				break
			}
			return e.stop(ctx, res, cursor.Page, err)
		}

		res.Pages++
		n := len(page.Records)
		if e.metrics != nil {
			e.metrics.RecordRecordsPerPage(e.source.Name(), n)
		}
		e.logger.DebugContext(ctx, "fetched page",
			"query", spec.Name(),
			"page", cursor.Page,
			"records", n,
			"total", page.Total,
		)

		if n == 0 {
			break
		}
		res.Records = append(res.Records, page.Records...)

		if e.cfg.MaxRecords > 0 && len(res.Records) >= e.cfg.MaxRecords {
			res.Records = res.Records[:e.cfg.MaxRecords]
			break
		}
		if page.KeyPaged {
			if page.NextKey == "" {
				break
			}
		} else {
			if n < cursor.PerPage {
				break
			}
			if page.HasTotal && len(res.Records) >= page.Total {
				break
			}
		}
		cursor = cursor.Next(page.NextKey)

		if err := e.pause(ctx); err != nil {
			return e.stop(ctx, res, cursor.Page, err)
		}
	}

	return res, nil
}

// fetchPage requests one page, retrying network errors with a backoff that
// grows linearly with the attempt number.
func (e *Executor) fetchPage(ctx context.Context, spec QuerySpec, cursor Cursor, res *QueryResult) (Page, error) {
	var page Page
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(e.cfg.RetryAttempts-1), linearBackoff(e.cfg.RetryBaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res.Requests++

		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()

		start := time.Now()
		p, err := e.source.FetchPage(reqCtx, spec, cursor)
		e.recordRequest(err, time.Since(start))
		if err == nil {
			page = p
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			return err
		}

		e.logger.WarnContext(ctx, "page request failed",
			"query", spec.Name(),
			"page", cursor.Page,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryAttempts,
			"error", err,
		)
		if attempt < e.cfg.RetryAttempts && e.metrics != nil {
			e.metrics.RecordIndexerRetry(e.source.Name(), retryReason(netErr))
		}
		return retry.RetryableError(err)
	})

	return page, err
}

// pause waits PageDelay after a completed page before the next request.
func (e *Executor) pause(ctx context.Context) error {
	if e.cfg.PageDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.cfg.PageDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop finalizes a query that ended on an error at page.
func (e *Executor) stop(ctx context.Context, res QueryResult, page int, err error) (QueryResult, error) {
	var svcErr *ServiceError
	switch {
	case errors.As(err, &svcErr) && page == 1 && svcErr.Kind == KindIndexingUnavailable:
		res.Status = StatusUnavailable
	case len(res.Records) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}

	qerr := &QueryError{Query: res.Spec.Name(), Page: page, Err: err}
	res.Err = qerr

	e.logger.WarnContext(ctx, "query stopped early",
		"query", res.Spec.Name(),
		"page", page,
		"status", res.Status,
		"records", len(res.Records),
		"error", err,
	)
	return res, qerr
}

func (e *Executor) recordRequest(err error, d time.Duration) {
	if e.metrics == nil {
		return
	}
	status := "success"
	var netErr *NetworkError
	var svcErr *ServiceError
	switch {
	case err == nil:
	case errors.As(err, &netErr):
		status = "network_error"
	case errors.As(err, &svcErr):
		status = "service_error"
	default:
		status = "envelope_error"
	}
	e.metrics.RecordIndexerRequest(e.source.Name(), status, d.Seconds())
}

func linearBackoff(base time.Duration) retry.Backoff {
	var attempt int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * base, false
	})
}

func retryReason(err *NetworkError) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err.StatusCode == 429:
		return "rate_limited"
	case err.StatusCode != 0:
		return "http_status"
	default:
		return "transport"
	}
}

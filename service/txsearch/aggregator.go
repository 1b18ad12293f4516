package txsearch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/metrics"
	"golang.org/x/sync/errgroup"
)

// QueryExecutor runs one query to completion. *Executor implements it.
type QueryExecutor interface {
	Execute(ctx context.Context, spec QuerySpec) (QueryResult, error)
	Backend() string
}

// QueryOutcome reports how one query angle went.
type QueryOutcome struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Status     Status `json:"status"`
	Records    int    `json:"records"`
	Pages      int    `json:"pages"`
	Requests   int    `json:"requests"`
	Error      string `json:"error,omitempty"`
}

// NewOutcome summarizes an executed query.
func NewOutcome(res QueryResult, err error) QueryOutcome {
	outcome := QueryOutcome{
		Name:       res.Spec.Name(),
		Expression: res.Spec.String(),
		Status:     res.Status,
		Records:    len(res.Records),
		Pages:      res.Pages,
		Requests:   res.Requests,
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

// Result is the merged output of all queries.
type Result struct {
	Transactions cosmos.TransactionSet
	Queries      []QueryOutcome
	// Duplicates counts records dropped because their hash was already merged.
	Duplicates int
	// Dropped counts records without a hash.
	Dropped int
}

// Failed returns the outcomes that did not complete.
func (r Result) Failed() []QueryOutcome {
	var failed []QueryOutcome
	for _, q := range r.Queries {
		if q.Status != StatusComplete {
			failed = append(failed, q)
		}
	}
	return failed
}

// Aggregator fans queries out over an executor and merges their records by
// transaction hash.
type Aggregator struct {
	executor      QueryExecutor
	decoder       *cosmos.Decoder
	maxConcurrent int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewAggregator creates an aggregator. maxConcurrent bounds how many queries
// run at once; 1 runs them one after another.
func NewAggregator(executor QueryExecutor, decoder *cosmos.Decoder, maxConcurrent int, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = cosmos.NewDecoder(cosmos.EncodingAuto)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Aggregator{
		executor:      executor,
		decoder:       decoder,
		maxConcurrent: maxConcurrent,
		metrics:       m,
		logger:        logger.With("component", "aggregator"),
	}
}

// Aggregate runs every spec and returns the union of whatever succeeded.
// Failures are reported per query in Result.Queries and never abort the
// other queries. If ctx is cancelled, queries not yet started are skipped
// and everything merged so far is returned.
func (a *Aggregator) Aggregate(ctx context.Context, specs []QuerySpec) Result {
	m := NewMerger(a.decoder)
	outcomes := make([]QueryOutcome, len(specs))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrent)

	for i, spec := range specs {
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = QueryOutcome{
					Name:       spec.Name(),
					Expression: spec.String(),
					Status:     StatusSkipped,
					Error:      ctx.Err().Error(),
				}
				return nil
			}

			res, err := a.executor.Execute(ctx, spec)
			m.Merge(res.Records)

			outcomes[i] = NewOutcome(res, err)

			if a.metrics != nil {
				a.metrics.RecordQueryOutcome(spec.Name(), string(res.Status), len(res.Records))
			}
			return nil
		})
	}
	_ = g.Wait()

	result := m.Result()
	result.Queries = outcomes

	if a.metrics != nil {
		a.metrics.RecordMerge(a.executor.Backend(), len(result.Transactions), result.Duplicates)
		for _, tx := range result.Transactions {
			if len(tx.DecodeIssues) > 0 {
				a.metrics.RecordDecodeIssue(a.executor.Backend())
			}
		}
	}

	a.logger.InfoContext(ctx, "aggregation complete",
		"queries", len(specs),
		"failed_queries", len(result.Failed()),
		"transactions", len(result.Transactions),
		"duplicates", result.Duplicates,
		"dropped", result.Dropped,
	)
	return result
}

// Merger deduplicates raw records into a transaction set. Records are
// decoded once, on first insertion. It is safe for concurrent use.
type Merger struct {
	mu         sync.Mutex
	decoder    *cosmos.Decoder
	set        cosmos.TransactionSet
	duplicates int
	dropped    int
}

// NewMerger returns an empty merger.
func NewMerger(decoder *cosmos.Decoder) *Merger {
	if decoder == nil {
		decoder = cosmos.NewDecoder(cosmos.EncodingAuto)
	}
	return &Merger{decoder: decoder, set: cosmos.TransactionSet{}}
}

// Merge adds records. A record whose hash is already present is dropped.
func (m *Merger) Merge(records []cosmos.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		hash := cosmos.RecordHash(rec)
		if hash == "" {
			m.dropped++
			continue
		}
		if _, ok := m.set[hash]; ok {
			m.duplicates++
			continue
		}
		tx := m.decoder.Decode(rec)
		tx.Hash = hash
		m.set.Add(tx)
	}
}

// Result returns a snapshot of the merged set and counters.
func (m *Merger) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(cosmos.TransactionSet, len(m.set))
	for k, v := range m.set {
		set[k] = v
	}
	return Result{Transactions: set, Duplicates: m.duplicates, Dropped: m.dropped}
}

package server

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ReportCache keeps recent reports so repeated lookups of the same account do
// not hit the indexer again. Entries expire after a fixed TTL.
type ReportCache struct {
	lru     *expirable.LRU[string, *history.Report]
	metrics *metrics.Metrics
}

// NewReportCache returns a cache holding up to size reports for ttl. A size
// of zero returns nil, which disables caching.
func NewReportCache(size int, ttl time.Duration, m *metrics.Metrics) *ReportCache {
	if size <= 0 {
		return nil
	}
	return &ReportCache{
		lru:     expirable.NewLRU[string, *history.Report](size, nil, ttl),
		metrics: m,
	}
}

// Get returns the cached report for req.
func (c *ReportCache) Get(req history.Request) (*history.Report, bool) {
	if c == nil {
		return nil, false
	}
	report, ok := c.lru.Get(cacheKey(req))
	if c.metrics != nil {
		c.metrics.RecordReportCacheLookup(ok)
	}
	return report, ok
}

// Add stores a report. Incomplete reports are not cached so a later request
// gets another chance at the failed queries.
func (c *ReportCache) Add(req history.Request, report *history.Report) {
	if c == nil || !report.Complete {
		return
	}
	c.lru.Add(cacheKey(req), report)
}

// Len returns the number of live entries.
func (c *ReportCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// cacheKey is independent of angle order and case.
func cacheKey(req history.Request) string {
	angles := make([]string, 0, len(req.Angles))
	for _, a := range req.Angles {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			angles = append(angles, a)
		}
	}
	slices.Sort(angles)
	angles = slices.Compact(angles)
	return fmt.Sprintf("%s|%s|%d|%d", req.Account, strings.Join(angles, ","), req.MinHeight, req.MaxHeight)
}

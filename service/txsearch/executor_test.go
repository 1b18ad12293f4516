package txsearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps retry and page delays out of test run time.
func fastConfig() ExecutorConfig {
	return ExecutorConfig{
		PageSize:       100,
		Order:          OrderDesc,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		PageDelay:      0,
		RequestTimeout: time.Second,
	}
}

type fakeSource struct {
	mu    sync.Mutex
	calls []Cursor
	fetch func(spec QuerySpec, c Cursor, call int) (Page, error)
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchPage(ctx context.Context, spec QuerySpec, c Cursor) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	call := len(f.calls)
	f.mu.Unlock()
	return f.fetch(spec, c, call)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeRecords(prefix string, from, n int) []cosmos.RawRecord {
	recs := make([]cosmos.RawRecord, n)
	for i := range n {
		recs[i] = cosmos.RawRecord(fmt.Sprintf(`{"hash":"%s%d","height":"%d"}`, prefix, from+i, from+i))
	}
	return recs
}

// txSearchServer simulates a tx_search endpoint holding total records.
func txSearchServer(t *testing.T, total int, requests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/tx_search", r.URL.Path)
		assert.Equal(t, `"message.sender='A'"`, r.URL.Query().Get("query"))
		assert.Equal(t, "false", r.URL.Query().Get("prove"))
		assert.Equal(t, `"desc"`, r.URL.Query().Get("order_by"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

		start := (page - 1) * perPage
		end := min(start+perPage, total)
		txs := "["
		for i := start; i < end; i++ {
			if i > start {
				txs += ","
			}
			txs += fmt.Sprintf(`{"hash":"H%d","height":"%d","tx_result":{"code":0,"events":[]}}`, i, total-i)
		}
		txs += "]"
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":-1,"result":{"txs":%s,"total_count":"%d"}}`, txs, total)
	}))
}

func TestExecute_StopsAtTotalCount(t *testing.T) {
	var requests atomic.Int32
	server := txSearchServer(t, 250, &requests)
	defer server.Close()

	exec := NewExecutor(NewRPCSource(server.URL, server.Client()), fastConfig(), nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("message-sender", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Records, 250)
	assert.Equal(t, StatusComplete, res.Status)
}

func TestExecute_StopsWhenTotalReachedOnFullPage(t *testing.T) {
	var requests atomic.Int32
	server := txSearchServer(t, 200, &requests)
	defer server.Close()

	exec := NewExecutor(NewRPCSource(server.URL, server.Client()), fastConfig(), nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("message-sender", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, res.Records, 200)
}

func TestExecute_MaxRecords(t *testing.T) {
	var requests atomic.Int32
	server := txSearchServer(t, 250, &requests)
	defer server.Close()

	cfg := fastConfig()
	cfg.MaxRecords = 150
	exec := NewExecutor(NewRPCSource(server.URL, server.Client()), cfg, nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("message-sender", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, res.Records, 150)
}

func TestExecute_RetryThenSuccess(t *testing.T) {
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		if call < 3 {
			return Page{}, &NetworkError{StatusCode: 502, Err: errors.New("bad gateway")}
		}
		return Page{Records: makeRecords("H", 0, 5)}, nil
	}}

	reg := prometheus.NewRegistry()
	exec := NewExecutor(src, fastConfig(), metrics.NewMetrics(reg), nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, 3, src.callCount())
	assert.Equal(t, 3, res.Requests)
	assert.Len(t, res.Records, 5)
}

func TestExecute_RetryExhaustionKeepsEarlierPages(t *testing.T) {
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		if c.Page == 1 {
			return Page{Records: makeRecords("H", 0, 100)}, nil
		}
		return Page{}, &NetworkError{Err: context.DeadlineExceeded}
	}}

	exec := NewExecutor(src, fastConfig(), nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.Error(t, err)
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, 2, qerr.Page)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))

	assert.Equal(t, 4, src.callCount()) // page 1 once, page 2 three times
	assert.Len(t, res.Records, 100)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, res.Pages)
}

func TestExecute_ServiceErrorNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		status Status
		is     error
	}{
		{"indexing disabled", "transaction indexing is disabled", StatusUnavailable, ErrIndexingUnavailable},
		{"bad query", "failed to parse query: unexpected token", StatusFailed, ErrQuerySyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"jsonrpc":"2.0","id":-1,"error":{"code":-32603,"message":"Internal error","data":%q}}`, tt.data)
			}))
			defer server.Close()

			exec := NewExecutor(NewRPCSource(server.URL, server.Client()), fastConfig(), nil, nil)
			res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.is)
			assert.Equal(t, int32(1), requests.Load())
			assert.Equal(t, tt.status, res.Status)
			assert.Empty(t, res.Records)
		})
	}
}

func TestExecute_Non2xxWithoutErrorBodyIsRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	exec := NewExecutor(NewRPCSource(server.URL, server.Client()), fastConfig(), nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.Error(t, err)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, StatusFailed, res.Status)
}

func TestExecute_RequestTimeoutIsRetryable(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.Write([]byte(`{"result":{"txs":[{"hash":"H1"}],"total_count":"1"}}`))
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	exec := NewExecutor(NewRPCSource(server.URL, server.Client()), cfg, nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, res.Records, 1)
}

func TestExecute_UnknownEnvelopeStopsPagination(t *testing.T) {
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		if c.Page == 1 {
			return Page{Records: makeRecords("H", 0, 100)}, nil
		}
		return Page{}, &EnvelopeShapeError{Snippet: "{}"}
	}}

	exec := NewExecutor(src, fastConfig(), nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())
	assert.Equal(t, StatusComplete, res.Status)
	assert.Len(t, res.Records, 100)
}

func TestExecute_EmptyPageStops(t *testing.T) {
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		return Page{}, nil
	}}

	exec := NewExecutor(src, fastConfig(), nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount())
	assert.Empty(t, res.Records)
}

func TestExecute_RESTFollowsNextKey(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/cosmos/tx/v1beta1/txs", r.URL.Path)
		assert.Equal(t, []string{"message.sender='A'"}, r.URL.Query()["events"])
		assert.Equal(t, "ORDER_BY_DESC", r.URL.Query().Get("order_by"))
		assert.Equal(t, "2", r.URL.Query().Get("pagination.limit"))

		switch r.URL.Query().Get("pagination.key") {
		case "":
			w.Write([]byte(`{"tx_responses":[{"txhash":"A1"},{"txhash":"A2"}],"pagination":{"next_key":"k2"}}`))
		case "k2":
			w.Write([]byte(`{"tx_responses":[{"txhash":"A3"},{"txhash":"A4"}],"pagination":{"next_key":null}}`))
		default:
			t.Errorf("unexpected key %q", r.URL.Query().Get("pagination.key"))
		}
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.PageSize = 2
	exec := NewExecutor(NewRESTSource(server.URL, server.Client()), cfg, nil, nil)
	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))

	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, res.Records, 4)
}

func TestExecute_CancellationKeepsFetchedPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		if c.Page == 2 {
			cancel()
			return Page{}, &NetworkError{Err: context.Canceled}
		}
		return Page{Records: makeRecords("H", 0, 100)}, nil
	}}

	exec := NewExecutor(src, fastConfig(), nil, nil)
	res, err := exec.Execute(ctx, NewQuerySpec("s", Eq("message.sender", "A")))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, src.callCount())
	assert.Len(t, res.Records, 100)
	assert.Equal(t, StatusPartial, res.Status)
}

func TestExecute_PageDelay(t *testing.T) {
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		if c.Page < 3 {
			return Page{Records: makeRecords("H", c.Page*100, 100)}, nil
		}
		return Page{}, nil
	}}

	cfg := fastConfig()
	cfg.PageDelay = 30 * time.Millisecond
	exec := NewExecutor(src, cfg, nil, nil)

	start := time.Now()
	_, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))
	require.NoError(t, err)

	// three pages, two delays between them
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestExecute_PageDelayFollowsSlowPages(t *testing.T) {
	const serverLatency = 300 * time.Millisecond
	const pageDelay = 250 * time.Millisecond

	var mu sync.Mutex
	var finished, started []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		started = append(started, time.Now())
		mu.Unlock()

		time.Sleep(serverLatency)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		txs := "[]"
		if page == 1 {
			txs = `[{"hash":"H1","height":"10","tx_result":{"code":0,"events":[]}}]`
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":-1,"result":{"txs":%s,"total_count":"5"}}`, txs)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		mu.Lock()
		finished = append(finished, time.Now())
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.PageSize = 1
	cfg.PageDelay = pageDelay
	exec := NewExecutor(NewRPCSource(srv.URL, srv.Client()), cfg, nil, nil)

	res, err := exec.Execute(context.Background(), NewQuerySpec("s", Eq("message.sender", "A")))
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, 2)
	require.NotEmpty(t, finished)

	// The gap is measured from the end of the first response, so a slow
	// server does not eat into the delay.
	gap := started[1].Sub(finished[0])
	assert.GreaterOrEqual(t, gap, pageDelay-20*time.Millisecond)
}

func TestExecute_CancelDuringPageDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{fetch: func(spec QuerySpec, c Cursor, call int) (Page, error) {
		cancel()
		return Page{Records: makeRecords("H", 0, 100)}, nil
	}}

	cfg := fastConfig()
	cfg.PageDelay = time.Minute
	exec := NewExecutor(src, cfg, nil, nil)

	start := time.Now()
	res, err := exec.Execute(ctx, NewQuerySpec("s", Eq("message.sender", "A")))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, src.callCount())
	assert.Len(t, res.Records, 100)
	assert.Equal(t, StatusPartial, res.Status)
}

func TestRPCSource_URL(t *testing.T) {
	src := NewRPCSource("https://rpc.example.com/", nil)
	got := src.URL(NewQuerySpec("s", Eq("message.sender", "A")), Cursor{Page: 2, PerPage: 50, Order: OrderAsc})
	assert.Equal(t, "https://rpc.example.com/tx_search?query=%22message.sender%3D%27A%27%22&prove=false&page=2&per_page=50&order_by=%22asc%22", got)
}

func TestNewExecutor_Defaults(t *testing.T) {
	exec := NewExecutor(&fakeSource{}, ExecutorConfig{PageSize: 500}, nil, nil)
	assert.Equal(t, MaxPageSize, exec.cfg.PageSize)
	assert.Equal(t, OrderDesc, exec.cfg.Order)
	assert.Equal(t, 3, exec.cfg.RetryAttempts)
	assert.Equal(t, 10*time.Second, exec.cfg.RequestTimeout)
	assert.Equal(t, "fake", exec.Backend())
}

func TestNewSource(t *testing.T) {
	src, err := NewSource("rest", "https://lcd.example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "rest", src.Name())

	src, err = NewSource("", "https://rpc.example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "rpc", src.Name())

	_, err = NewSource("grpc", "x", nil)
	assert.Error(t, err)
}

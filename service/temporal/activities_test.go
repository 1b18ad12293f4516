package temporal

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/metrics"
	natspkg "github.com/brojonat/tmhistory/service/nats"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, spec txsearch.QuerySpec) (txsearch.QueryResult, error) {
	args := m.Called(ctx, spec.String())
	res := args.Get(0).(txsearch.QueryResult)
	res.Spec = spec
	return res, args.Error(1)
}

func (m *MockExecutor) Backend() string { return "rpc" }

func newTestActivities(exec txsearch.QueryExecutor, pub history.Publisher) *Activities {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewActivities(exec, cosmos.NewDecoder(cosmos.EncodingAuto), pub, m, logger)
}

func TestRunQuery(t *testing.T) {
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, "transfer.recipient='"+testAccount+"' AND tx.height>=10").
		Return(txsearch.QueryResult{
			Records: []cosmos.RawRecord{rec("H1"), rec("H2")},
			Pages:   1, Requests: 1,
			Status: txsearch.StatusComplete,
		}, nil)

	res, err := newTestActivities(exec, nil).RunQuery(context.Background(), RunQueryInput{
		Account:   testAccount,
		Angle:     "transfer-recipient",
		MinHeight: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, "transfer-recipient", res.Outcome.Name)
	assert.Equal(t, txsearch.StatusComplete, res.Outcome.Status)
	assert.Equal(t, 2, res.Outcome.Records)
	exec.AssertExpectations(t)
}

func TestRunQuery_FailureIsReportedNotReturned(t *testing.T) {
	exec := new(MockExecutor)
	exec.On("Execute", mock.Anything, mock.Anything).
		Return(txsearch.QueryResult{
			Records: []cosmos.RawRecord{rec("H1")},
			Pages:   1, Requests: 4,
			Status: txsearch.StatusPartial,
		}, errors.New("query message-sender page 2: connection reset"))

	res, err := newTestActivities(exec, nil).RunQuery(context.Background(), RunQueryInput{
		Account: testAccount,
		Angle:   "message-sender",
	})
	require.NoError(t, err)
	assert.Equal(t, txsearch.StatusPartial, res.Outcome.Status)
	assert.Contains(t, res.Outcome.Error, "connection reset")
	assert.Len(t, res.Records, 1)
}

func TestRunQuery_InvalidInput(t *testing.T) {
	act := newTestActivities(new(MockExecutor), nil)

	_, err := act.RunQuery(context.Background(), RunQueryInput{Account: testAccount, Angle: "bogus"})
	assert.ErrorContains(t, err, "unknown angles")

	_, err = act.RunQuery(context.Background(), RunQueryInput{Account: testAccount, Angle: "core"})
	assert.ErrorContains(t, err, "want 1")

	_, err = act.RunQuery(context.Background(), RunQueryInput{Account: "x", Angle: "message-sender"})
	assert.ErrorContains(t, err, "invalid account")
}

func TestBuildReport(t *testing.T) {
	records := []cosmos.RawRecord{
		cosmos.RawRecord(`{"hash":"A","height":"5","tx_result":{"code":0}}`),
		cosmos.RawRecord(`{"hash":"B","height":"9","tx_result":{"code":5}}`),
	}
	queries := []txsearch.QueryOutcome{{Name: "message-sender", Status: txsearch.StatusComplete}}

	report, err := newTestActivities(new(MockExecutor), nil).BuildReport(context.Background(), BuildReportInput{
		RunID:      "run-42",
		Account:    testAccount,
		Records:    records,
		Queries:    queries,
		Duplicates: 3,
		StartedAt:  time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	assert.Equal(t, "run-42", report.RunID)
	assert.Equal(t, "rpc", report.Backend)
	assert.Equal(t, 3, report.Duplicates)
	assert.True(t, report.Complete)
	require.Len(t, report.Transactions, 2)
	assert.Equal(t, "B", report.Transactions[0].Hash)
	assert.False(t, report.Transactions[0].Success)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Failed)
}

func TestPublishReport(t *testing.T) {
	report := &history.Report{
		RunID:   "run-1",
		Account: testAccount,
		Transactions: []history.ReportTransaction{{
			Transaction: &cosmos.Transaction{Hash: "H1", Height: 4, Success: true},
			Transfers: []cosmos.Transfer{{
				Kind: cosmos.TransferBankSend, From: testAccount, To: "cosmos1you",
				Direction: cosmos.DirectionSent, Amount: []cosmos.Coin{{Denom: "uatom", Amount: "1"}},
			}},
		}},
	}

	pub := natspkg.NewMockPublisher()
	require.NoError(t, newTestActivities(new(MockExecutor), pub).PublishReport(context.Background(), PublishReportInput{Report: report}))
	require.Len(t, pub.GetPublishedReports(), 1)
	events := pub.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "H1", events[0].TxHash)
	assert.Equal(t, "run-1", events[0].RunID)

	failing := natspkg.NewMockPublisher()
	failing.SetPublishError(errors.New("nats down"))
	err := newTestActivities(new(MockExecutor), failing).PublishReport(context.Background(), PublishReportInput{Report: report})
	assert.ErrorContains(t, err, "nats down")
	assert.Empty(t, failing.GetPublishedEvents())

	assert.NoError(t, newTestActivities(new(MockExecutor), nil).PublishReport(context.Background(), PublishReportInput{Report: report}))
	assert.Error(t, newTestActivities(new(MockExecutor), nil).PublishReport(context.Background(), PublishReportInput{}))
}

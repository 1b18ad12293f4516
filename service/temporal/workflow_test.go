package temporal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

const testAccount = "cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"

func rec(hash string) cosmos.RawRecord {
	return cosmos.RawRecord(`{"hash":"` + hash + `","height":"1","tx_result":{"code":0}}`)
}

func queryResult(angle string, hashes ...string) *RunQueryResult {
	res := &RunQueryResult{
		Outcome: txsearch.QueryOutcome{Name: angle, Status: txsearch.StatusComplete, Records: len(hashes), Pages: 1, Requests: 1},
	}
	for _, h := range hashes {
		res.Records = append(res.Records, rec(h))
	}
	return res
}

func newEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first
	activities := &Activities{}
	env.RegisterActivity(activities.RunQuery)
	env.RegisterActivity(activities.BuildReport)
	env.RegisterActivity(activities.PublishReport)
	return env, activities
}

// buildReport mimics the real activity closely enough to check what the
// workflow hands it.
func buildReport(captured *BuildReportInput) func(context.Context, BuildReportInput) (*history.Report, error) {
	return func(ctx context.Context, input BuildReportInput) (*history.Report, error) {
		*captured = input
		report := history.BuildReport(input.Account, cosmos.TransactionSet{}, input.Queries)
		report.RunID = input.RunID
		return report, nil
	}
}

func TestFetchHistoryWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          FetchHistoryInput
		mockActivities func(env *testsuite.TestWorkflowEnvironment, activities *Activities, captured *BuildReportInput)
		validateResult func(t *testing.T, result *FetchHistoryResult, captured BuildReportInput)
	}{
		{
			name:  "merges records across angles",
			input: FetchHistoryInput{Account: testAccount, Angles: []string{"message-sender", "transfer-recipient"}},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities, captured *BuildReportInput) {
				env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(
					func(ctx context.Context, input RunQueryInput) (*RunQueryResult, error) {
						if input.Angle == "message-sender" {
							return queryResult(input.Angle, "H1", "H2"), nil
						}
						return queryResult(input.Angle, "H2", "H3"), nil
					})
				env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(buildReport(captured))
			},
			validateResult: func(t *testing.T, result *FetchHistoryResult, captured BuildReportInput) {
				assert.True(t, result.Complete)
				assert.Equal(t, 1, result.Duplicates)
				assert.False(t, result.Published)
				require.Len(t, captured.Records, 3)
				assert.Equal(t, "H1", cosmos.RecordHash(captured.Records[0]))
				assert.Equal(t, "H3", cosmos.RecordHash(captured.Records[2]))
				require.Len(t, captured.Queries, 2)
				assert.Equal(t, "message-sender", captured.Queries[0].Name)
				assert.NotEmpty(t, captured.RunID)
			},
		},
		{
			name:  "failed query activity becomes failed outcome",
			input: FetchHistoryInput{Account: testAccount, Angles: []string{"message-sender", "coin-received"}},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities, captured *BuildReportInput) {
				env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(
					func(ctx context.Context, input RunQueryInput) (*RunQueryResult, error) {
						if input.Angle == "coin-received" {
							return nil, errors.New("worker lost")
						}
						return queryResult(input.Angle, "H1"), nil
					})
				env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(buildReport(captured))
			},
			validateResult: func(t *testing.T, result *FetchHistoryResult, captured BuildReportInput) {
				assert.False(t, result.Complete)
				require.Len(t, result.Queries, 2)
				assert.Equal(t, txsearch.StatusComplete, result.Queries[0].Status)
				assert.Equal(t, txsearch.StatusFailed, result.Queries[1].Status)
				assert.Contains(t, result.Queries[1].Error, "worker lost")
				assert.Equal(t, "coin_received.receiver='"+testAccount+"'", result.Queries[1].Expression)
				assert.Len(t, captured.Records, 1)
			},
		},
		{
			name:  "records without hash are dropped",
			input: FetchHistoryInput{Account: testAccount, Angles: []string{"message-sender"}},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities, captured *BuildReportInput) {
				res := queryResult("message-sender", "H1")
				res.Records = append(res.Records, cosmos.RawRecord(`{"height":"3"}`))
				env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(res, nil)
				env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(buildReport(captured))
			},
			validateResult: func(t *testing.T, result *FetchHistoryResult, captured BuildReportInput) {
				assert.Equal(t, 1, result.Dropped)
				assert.Len(t, captured.Records, 1)
			},
		},
		{
			name:  "publishes when asked",
			input: FetchHistoryInput{Account: testAccount, Angles: []string{"message-sender"}, Publish: true},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities, captured *BuildReportInput) {
				env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(queryResult("message-sender"), nil)
				env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(buildReport(captured))
				env.OnActivity(activities.PublishReport, mock.Anything, mock.Anything).Return(nil)
			},
			validateResult: func(t *testing.T, result *FetchHistoryResult, captured BuildReportInput) {
				assert.True(t, result.Published)
			},
		},
		{
			name:  "publish failure does not fail the workflow",
			input: FetchHistoryInput{Account: testAccount, Angles: []string{"message-sender"}, Publish: true},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities, captured *BuildReportInput) {
				env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(queryResult("message-sender"), nil)
				env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(buildReport(captured))
				env.OnActivity(activities.PublishReport, mock.Anything, mock.Anything).Return(errors.New("nats down"))
			},
			validateResult: func(t *testing.T, result *FetchHistoryResult, captured BuildReportInput) {
				assert.False(t, result.Published)
				assert.True(t, result.Complete)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newEnv(t)
			var captured BuildReportInput
			tt.mockActivities(env, activities, &captured)

			env.ExecuteWorkflow(FetchHistoryWorkflow, tt.input)

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result FetchHistoryResult
			require.NoError(t, env.GetWorkflowResult(&result))
			assert.Equal(t, testAccount, result.Account)
			tt.validateResult(t, &result, captured)
		})
	}
}

func TestFetchHistoryWorkflow_DefaultAngles(t *testing.T) {
	env, activities := newEnv(t)

	var mu sync.Mutex
	var angles []string
	env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, input RunQueryInput) (*RunQueryResult, error) {
			mu.Lock()
			defer mu.Unlock()
			angles = append(angles, input.Angle)
			return queryResult(input.Angle), nil
		})
	var captured BuildReportInput
	env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(buildReport(&captured))

	env.ExecuteWorkflow(FetchHistoryWorkflow, FetchHistoryInput{Account: testAccount})
	require.NoError(t, env.GetWorkflowError())

	assert.ElementsMatch(t, []string{"message-sender", "transfer-recipient", "transfer-sender", "coin-received", "coin-spent"}, angles)
}

func TestFetchHistoryWorkflow_InvalidAccount(t *testing.T) {
	env, _ := newEnv(t)

	env.ExecuteWorkflow(FetchHistoryWorkflow, FetchHistoryInput{Account: "nope"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestFetchHistoryWorkflow_BuildReportFails(t *testing.T) {
	env, activities := newEnv(t)
	env.OnActivity(activities.RunQuery, mock.Anything, mock.Anything).Return(queryResult("message-sender"), nil)
	env.OnActivity(activities.BuildReport, mock.Anything, mock.Anything).Return(nil, errors.New("decode exploded"))

	env.ExecuteWorkflow(FetchHistoryWorkflow, FetchHistoryInput{Account: testAccount, Angles: []string{"message-sender"}})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

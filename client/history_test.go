package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"

func TestGetHistory_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+account+"/history", r.URL.Path)
		assert.Equal(t, "core,ibc", r.URL.Query().Get("angles"))
		assert.Equal(t, "100", r.URL.Query().Get("min_height"))
		assert.Equal(t, "", r.URL.Query().Get("max_height"))
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))

		json.NewEncoder(w).Encode(history.Report{
			RunID:    "run-1",
			Account:  account,
			Complete: true,
			Transactions: []history.ReportTransaction{
				{Transaction: &cosmos.Transaction{Hash: "H1", Height: 10, Success: true}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	report, err := c.GetHistory(context.Background(), account, HistoryOptions{
		Angles:    []string{"core", "ibc"},
		MinHeight: 100,
		Refresh:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Transactions, 1)
	assert.Equal(t, "H1", report.Transactions[0].Hash)
}

func TestGetHistory_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid account address",
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).GetHistory(context.Background(), "bad", HistoryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid account address")
}

func TestGetHistory_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).GetHistory(context.Background(), account, HistoryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestGetSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/"+account+"/summary", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		json.NewEncoder(w).Encode(cosmos.Summary{Account: account, Total: 4, Received: 4})
	}))
	defer server.Close()

	summary, err := NewClient(server.URL+"/", nil, nil).GetSummary(context.Background(), account, HistoryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Received)
}

func TestListAngles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/angles", r.URL.Path)
		w.Write([]byte(`{"angles":[{"name":"message-sender","group":"core","event_key":"message.sender"}],"defaults":[],"count":1}`))
	}))
	defer server.Close()

	catalogue, err := NewClient(server.URL, nil, nil).ListAngles(context.Background())
	require.NoError(t, err)
	require.Len(t, catalogue.Angles, 1)
	assert.Equal(t, "message.sender", catalogue.Angles[0].EventKey)
}

func TestStartWorkflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+account+"/history/workflows", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(5), body["min_height"])

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"workflow_id": "wf-1", "run_id": "run-1"})
	}))
	defer server.Close()

	run, err := NewClient(server.URL, nil, nil).StartWorkflow(context.Background(), account, HistoryOptions{MinHeight: 5})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", run.WorkflowID)
	assert.Equal(t, "run-1", run.RunID)
}

func TestStartWorkflow_NotConfigured(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).StartWorkflow(context.Background(), account, HistoryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
)

// HistoryOptions narrows a history lookup. Zero values use the server's
// defaults.
type HistoryOptions struct {
	Angles    []string
	MinHeight int64
	MaxHeight int64
	// Refresh bypasses the server's report cache.
	Refresh bool
}

// AngleCatalogue lists the query angles a server knows about.
type AngleCatalogue struct {
	Angles   []txsearch.Angle `json:"angles"`
	Defaults []txsearch.Angle `json:"defaults"`
	Count    int              `json:"count"`
}

// WorkflowRun identifies a started fetch workflow.
type WorkflowRun struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Client is the HTTP client for the tmhistory service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new history service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Fetching a busy account can take minutes.
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetHistory returns the full history report for address.
func (c *Client) GetHistory(ctx context.Context, address string, opts HistoryOptions) (*history.Report, error) {
	var report history.Report
	if err := c.get(ctx, c.accountURL(address, "history", opts), &report); err != nil {
		return nil, err
	}
	c.logger.Debug("history retrieved",
		"address", address,
		"run_id", report.RunID,
		"transactions", len(report.Transactions),
	)
	return &report, nil
}

// GetSummary returns only the summary of address's history.
func (c *Client) GetSummary(ctx context.Context, address string, opts HistoryOptions) (*cosmos.Summary, error) {
	var summary cosmos.Summary
	if err := c.get(ctx, c.accountURL(address, "summary", opts), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListAngles returns the server's angle catalogue.
func (c *Client) ListAngles(ctx context.Context) (*AngleCatalogue, error) {
	var catalogue AngleCatalogue
	if err := c.get(ctx, c.baseURL+"/api/v1/angles", &catalogue); err != nil {
		return nil, err
	}
	return &catalogue, nil
}

// StartWorkflow asks the server to start a durable history fetch.
func (c *Client) StartWorkflow(ctx context.Context, address string, opts HistoryOptions) (*WorkflowRun, error) {
	body, err := json.Marshal(map[string]any{
		"angles":     opts.Angles,
		"min_height": opts.MinHeight,
		"max_height": opts.MaxHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/accounts/%s/history/workflows", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var run WorkflowRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("workflow started", "address", address, "workflow_id", run.WorkflowID)
	return &run, nil
}

func (c *Client) accountURL(address, resource string, opts HistoryOptions) string {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/%s", c.baseURL, url.PathEscape(address), resource)

	q := url.Values{}
	if len(opts.Angles) > 0 {
		q.Set("angles", strings.Join(opts.Angles, ","))
	}
	if opts.MinHeight > 0 {
		q.Set("min_height", strconv.FormatInt(opts.MinHeight, 10))
	}
	if opts.MaxHeight > 0 {
		q.Set("max_height", strconv.FormatInt(opts.MaxHeight, 10))
	}
	if opts.Refresh {
		q.Set("refresh", "true")
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}

package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/tmhistory/service/history"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// WorkflowName is the registered name of FetchHistoryWorkflow.
const WorkflowName = "FetchHistoryWorkflow"

// Client starts and inspects history fetch workflows.
type Client struct {
	client    client.Client
	taskQueue string
	publish   bool
	angles    []string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: c, taskQueue: taskQueue, logger: logger}
}

// WithPublish makes started workflows publish their transfers.
func (c *Client) WithPublish(publish bool) *Client {
	c.publish = publish
	return c
}

// WithDefaultAngles sets the angles used when a request names none. Without
// it the worker plans the built-in core angles.
func (c *Client) WithDefaultAngles(angles []txsearch.Angle) *Client {
	c.angles = make([]string, len(angles))
	for i, a := range angles {
		c.angles[i] = a.Name
	}
	return c
}

// StartFetchHistory starts a FetchHistoryWorkflow for req and returns its
// workflow and run IDs without waiting for it to finish.
func (c *Client) StartFetchHistory(ctx context.Context, req history.Request) (string, string, error) {
	id := fmt.Sprintf("fetch-history-%s-%s", req.Account, uuid.NewString())
	angles := req.Angles
	if len(angles) == 0 {
		angles = c.angles
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]any{
			"account":    req.Account,
			"created_by": "tmhistory",
		},
	}, WorkflowName, FetchHistoryInput{
		Account:   req.Account,
		Angles:    angles,
		MinHeight: req.MinHeight,
		MaxHeight: req.MaxHeight,
		Publish:   c.publish,
	})
	if err != nil {
		c.logger.Error("failed to start fetch workflow",
			"account", req.Account,
			"workflow_id", id,
			"error", err,
		)
		return "", "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("fetch workflow started",
		"account", req.Account,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), run.GetRunID(), nil
}

// GetFetchHistoryResult blocks until the workflow finishes and returns its
// result.
func (c *Client) GetFetchHistoryResult(ctx context.Context, workflowID, runID string) (*FetchHistoryResult, error) {
	var result FetchHistoryResult
	if err := c.client.GetWorkflow(ctx, workflowID, runID).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("workflow %q failed: %w", workflowID, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}

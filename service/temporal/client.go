package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
)

// Reconciler starts background reconciliation of transfers whose outcome is
// unknown.
type Reconciler interface {
	StartReconcile(ctx context.Context, input ReconcileTransferInput) error
}

// Client is a production implementation of Reconciler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
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

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartReconcile starts reconciliation for a transfer. Starting it twice for
// the same signature attaches to the running workflow instead of starting a
// second one.
func (c *Client) StartReconcile(ctx context.Context, input ReconcileTransferInput) error {
	id := ReconcileWorkflowID(input.Signature)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"sender":     input.Sender,
			"recipient":  input.Recipient,
			"created_by": "solrelay",
		},
	}, ReconcileTransferWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start reconciliation",
			"signature", input.Signature,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("reconciliation started",
		"signature", input.Signature,
		"workflow_id", id,
		"run_id", run.GetRunID(),
		"deadline", input.Deadline,
	)
	return nil
}

// ReconcileResult blocks until the reconciliation for signature completes and
// returns its outcome.
func (c *Client) ReconcileResult(ctx context.Context, signature string) (*ReconcileTransferResult, error) {
	var result ReconcileTransferResult
	if err := c.client.GetWorkflow(ctx, ReconcileWorkflowID(signature), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get reconciliation result: %w", err)
	}
	return &result, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// ReconcileWorkflowID is the workflow ID used for a transfer's reconciliation.
func ReconcileWorkflowID(signature string) string {
	return "reconcile-" + signature
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/solrelay/service/transfer"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const defaultReconcilePollInterval = 5 * time.Second

// ReconcileTransferWorkflow settles a transfer whose confirmation wait timed
// out. It polls the ledger until the signature reaches a terminal status or
// the deadline passes, then records the outcome. It never resubmits.
func ReconcileTransferWorkflow(ctx workflow.Context, input ReconcileTransferInput) (*ReconcileTransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileTransferWorkflow started", "signature", input.Signature)

	result := &ReconcileTransferResult{Signature: input.Signature}

	interval := input.PollInterval
	if interval <= 0 {
		interval = defaultReconcilePollInterval
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	var last *CheckSignatureStatusResult
	for {
		var check *CheckSignatureStatusResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignatureStatus, CheckSignatureStatusInput{
			Signature:            input.Signature,
			LastValidBlockHeight: input.LastValidBlockHeight,
		}).Get(ctx, &check)
		if err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("failed to check signature status: %w", err)
		}
		result.Polls++
		last = check

		if check.Terminal {
			result.Status = check.Status
			result.Slot = check.Slot
			result.Error = check.Error
			break
		}
		if !input.Deadline.IsZero() && !workflow.Now(ctx).Before(input.Deadline) {
			logger.Warn("reconciliation deadline passed", "signature", input.Signature, "polls", result.Polls)
			result.Status, result.Slot = deadlineStatus(last)
			break
		}

		if err := workflow.Sleep(ctx, interval); err != nil {
			return result, err
		}
	}

	err := workflow.ExecuteActivity(ctx, a.RecordTransferStatus, RecordTransferStatusInput{
		Signature: input.Signature,
		Sender:    input.Sender,
		Recipient: input.Recipient,
		Lamports:  input.Lamports,
		Status:    result.Status,
		Slot:      result.Slot,
		Error:     result.Error,
	}).Get(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to record transfer status: %w", err)
	}

	logger.Info("ReconcileTransferWorkflow completed",
		"signature", input.Signature,
		"status", result.Status,
		"polls", result.Polls,
	)
	return result, nil
}

// deadlineStatus settles a transfer still short of the target commitment when
// the deadline passes. Only a signature the ledger never reported is dropped;
// one it has seen keeps its observed status and may still finalize.
func deadlineStatus(last *CheckSignatureStatusResult) (string, uint64) {
	if last == nil || !last.Found {
		return transfer.StatusDropped, 0
	}
	switch last.Status {
	case transfer.StatusConfirmed, transfer.StatusFinalized:
		return last.Status, last.Slot
	default:
		return transfer.StatusUnknown, last.Slot
	}
}

package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solrelay/service/db"
	"github.com/brojonat/solrelay/service/metrics"
	natspkg "github.com/brojonat/solrelay/service/nats"
	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/brojonat/solrelay/service/solana"
	"github.com/brojonat/solrelay/service/transfer"
	"github.com/jackc/pgx/v5"
)

// ReconcileTransferInput identifies a transfer whose outcome was unknown when
// the request that submitted it returned.
type ReconcileTransferInput struct {
	Signature            string        `json:"signature"`
	Sender               string        `json:"sender"`
	Recipient            string        `json:"recipient"`
	Lamports             uint64        `json:"lamports"`
	LastValidBlockHeight uint64        `json:"last_valid_block_height"`
	Deadline             time.Time     `json:"deadline"`
	PollInterval         time.Duration `json:"poll_interval"`
}

// ReconcileTransferResult is the settled outcome of a reconciliation.
type ReconcileTransferResult struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	Slot      uint64 `json:"slot,omitempty"`
	Error     string `json:"error,omitempty"`
	Polls     int    `json:"polls"`
}

// CheckSignatureStatusInput contains parameters for the CheckSignatureStatus activity.
type CheckSignatureStatusInput struct {
	Signature            string `json:"signature"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// CheckSignatureStatusResult reports what the ledger knows about a signature.
// Terminal is set once the status can no longer change in a way the relay
// cares about.
type CheckSignatureStatusResult struct {
	Found    bool   `json:"found"`
	Status   string `json:"status"`
	Slot     uint64 `json:"slot"`
	Error    string `json:"error,omitempty"`
	Expired  bool   `json:"expired"`
	Terminal bool   `json:"terminal"`
}

// RecordTransferStatusInput contains parameters for the RecordTransferStatus activity.
type RecordTransferStatusInput struct {
	Signature string `json:"signature"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
	Status    string `json:"status"`
	Slot      uint64 `json:"slot,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	UpdateTransferStatus(context.Context, db.UpdateTransferStatusParams) (*db.Transfer, error)
}

// LedgerInterface defines the read-only Solana operations needed by activities.
// Nothing in this package can submit a transaction.
type LedgerInterface interface {
	SignatureStatus(ctx context.Context, signature string) (*solana.StatusReport, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Store and publisher are optional.
type Activities struct {
	store      StoreInterface
	ledger     LedgerInterface
	publisher  PublisherInterface
	commitment solana.ConfirmationStatus
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	ledger LedgerInterface,
	publisher PublisherInterface,
	commitment solana.ConfirmationStatus,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if commitment == "" {
		commitment = solana.StatusConfirmed
	}
	return &Activities{
		store:      store,
		ledger:     ledger,
		publisher:  publisher,
		commitment: commitment,
		metrics:    m,
		logger:     logger,
	}
}

// CheckSignatureStatus looks the signature up once. When the ledger has no
// record of it, the current block height decides whether it can still land.
func (a *Activities) CheckSignatureStatus(ctx context.Context, input CheckSignatureStatusInput) (*CheckSignatureStatusResult, error) {
	report, err := a.ledger.SignatureStatus(ctx, input.Signature)
	if err != nil {
		a.logger.WarnContext(ctx, "signature status lookup failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to look up signature status: %w", err)
	}

	result := &CheckSignatureStatusResult{
		Found:  report.Found,
		Status: string(report.Status),
		Slot:   report.Slot,
		Error:  report.Err,
	}

	switch {
	case report.Err != "":
		result.Status = transfer.StatusRejected
		result.Terminal = true
	case report.Found && report.Status.Reaches(a.commitment):
		result.Terminal = true
	case !report.Found:
		height, err := a.ledger.BlockHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get block height: %w", err)
		}
		if input.LastValidBlockHeight > 0 && height > input.LastValidBlockHeight {
			result.Expired = true
			result.Status = transfer.StatusDropped
			result.Terminal = true
		}
	}

	a.logger.DebugContext(ctx, "checked signature status",
		"signature", input.Signature,
		"found", result.Found,
		"status", result.Status,
		"terminal", result.Terminal,
	)
	return result, nil
}

// RecordTransferStatus persists the settled status and publishes the
// transition. A transfer that was never recorded (the database was down when
// it was submitted) is still published.
func (a *Activities) RecordTransferStatus(ctx context.Context, input RecordTransferStatusInput) error {
	var (
		slot         *int64
		errorKind    *string
		errorMessage *string
	)
	if input.Slot > 0 {
		s := int64(input.Slot)
		slot = &s
	}
	switch {
	case input.Status == transfer.StatusRejected:
		kind := string(relayerr.KindSubmissionRejected)
		errorKind = &kind
		if input.Error != "" {
			errorMessage = &input.Error
		}
	case input.Status == transfer.StatusDropped:
		kind := transfer.StatusDropped
		msg := "blockhash expired before the transaction was seen"
		errorKind = &kind
		errorMessage = &msg
	}

	event := &natspkg.TransferEvent{
		Signature:   input.Signature,
		Sender:      input.Sender,
		Recipient:   input.Recipient,
		Lamports:    int64(input.Lamports),
		Status:      input.Status,
		Slot:        slot,
		PublishedAt: time.Now().UTC(),
	}
	if errorKind != nil {
		event.ErrorKind = *errorKind
	}

	if a.store != nil {
		updated, err := a.store.UpdateTransferStatus(ctx, db.UpdateTransferStatusParams{
			Signature:    input.Signature,
			Status:       input.Status,
			Slot:         slot,
			ErrorKind:    errorKind,
			ErrorMessage: errorMessage,
		})
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			a.logger.WarnContext(ctx, "reconciled transfer has no stored record",
				"signature", input.Signature,
				"status", input.Status,
			)
		case err != nil:
			return fmt.Errorf("failed to update transfer status: %w", err)
		default:
			event = natspkg.FromDBTransfer(updated)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishTransfer(ctx, event); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish reconciled transfer",
				"signature", input.Signature,
				"error", err,
			)
		}
	}

	a.metrics.RecordReconcileOutcome(input.Status)
	a.logger.InfoContext(ctx, "transfer reconciled",
		"signature", input.Signature,
		"status", input.Status,
		"slot", input.Slot,
	)
	return nil
}

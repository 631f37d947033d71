package transfer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solrelay/service/metrics"
	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/brojonat/solrelay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Transfer statuses as recorded and reported by the relay.
const (
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusRejected  = "rejected"
	StatusUnknown   = "unknown"
	StatusDropped   = "dropped"
)

// Ledger is what the executor needs from the RPC client.
type Ledger interface {
	GetRecentAnchor(ctx context.Context) (solana.Anchor, error)
	Submit(ctx context.Context, tx *solanago.Transaction) (solana.Receipt, error)
	Confirm(ctx context.Context, receipt solana.Receipt) (solana.Confirmation, error)
}

// Receipt describes a signed transfer. It is returned on success, and also
// alongside the error whenever a signed transaction exists but its outcome is
// a failure or unknown.
type Receipt struct {
	Signature            string `json:"signature"`
	Sender               string `json:"sender"`
	Recipient            string `json:"recipient"`
	Lamports             uint64 `json:"lamports"`
	Status               string `json:"status"`
	Slot                 uint64 `json:"slot,omitempty"`
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type Options struct {
	// VerifySender rejects key material that does not control the sender
	// address before any network call is made.
	VerifySender bool
}

// Executor builds, signs, submits and confirms transfers. It holds no
// per-request state, so one Executor serves concurrent requests.
type Executor struct {
	ledger  Ledger
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewExecutor(ledger Ledger, opts Options, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ledger:  ledger,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "transfer_executor"),
	}
}

// Execute runs a transfer end to end. All input validation, including key
// reconstruction, happens before any network I/O. The request's key material
// is zeroed before Execute returns, whatever the outcome.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Receipt, error) {
	defer req.Zero()

	start := time.Now()
	receipt, err := e.execute(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = string(relayerr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	e.metrics.RecordTransfer(outcome)

	if err != nil {
		e.logger.WarnContext(ctx, "transfer failed",
			"sender", req.SenderAddress,
			"recipient", req.RecipientAddress,
			"kind", outcome,
			"signature", relayerr.SignatureOf(err),
			"duration", time.Since(start),
			"error", err,
		)
	}
	return receipt, err
}

func (e *Executor) execute(ctx context.Context, req *Request) (*Receipt, error) {
	if missing := req.MissingFields(); len(missing) > 0 {
		return nil, relayerr.New(relayerr.KindMissingFields, "missing required fields: %s", strings.Join(missing, ", "))
	}

	sender, err := solana.ParseAddress(req.SenderAddress)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindInvalidAddress, err, "sender")
	}
	lamports, err := solana.ValidateAmount(string(req.Amount))
	if err != nil {
		return nil, err
	}
	if _, err := solana.ParseAddress(req.RecipientAddress); err != nil {
		return nil, relayerr.Wrap(relayerr.KindInvalidAddress, err, "recipient")
	}

	secret, err := req.SenderSecretKey.Bytes()
	if err != nil {
		return nil, err
	}
	id, err := ParseIdentity(secret)
	if err != nil {
		return nil, err
	}
	defer id.Zero()

	if e.opts.VerifySender && !id.PublicKey().Equals(sender) {
		return nil, relayerr.New(relayerr.KindInvalidKeyMaterial, "secret key does not control sender address")
	}

	anchor, err := e.ledger.GetRecentAnchor(ctx)
	if err != nil {
		return nil, err
	}

	tx, built, err := solana.BuildTransfer(sender, req.RecipientAddress, string(req.Amount), anchor)
	if err != nil {
		return nil, err
	}
	decoded, err := solana.DecodeTransfer(tx)
	if err != nil || decoded.Lamports != lamports || built != lamports || !decoded.From.Equals(sender) {
		return nil, relayerr.New(relayerr.KindInvalidAmount, "built transfer does not match request")
	}

	if err := id.Sign(tx); err != nil {
		return nil, relayerr.Wrap(relayerr.KindInvalidKeyMaterial, err, "sign transaction")
	}

	receipt := &Receipt{
		Signature:            tx.Signatures[0].String(),
		Sender:               sender.String(),
		Recipient:            decoded.To.String(),
		Lamports:             lamports,
		Status:               StatusUnknown,
		Blockhash:            anchor.Blockhash.String(),
		LastValidBlockHeight: anchor.LastValidBlockHeight,
	}

	e.logger.InfoContext(ctx, "submitting transfer",
		"signature", receipt.Signature,
		"sender", receipt.Sender,
		"recipient", receipt.Recipient,
		"lamports", lamports,
	)

	sent, err := e.ledger.Submit(ctx, tx)
	if err != nil {
		if relayerr.KindOf(err) == relayerr.KindSubmissionRejected {
			receipt.Status = StatusRejected
		}
		return receipt, err
	}

	conf, err := e.ledger.Confirm(ctx, sent)
	if err != nil {
		if relayerr.KindOf(err) == relayerr.KindSubmissionRejected {
			receipt.Status = StatusRejected
		}
		return receipt, err
	}

	receipt.Status = string(conf.Status)
	receipt.Slot = conf.Slot
	return receipt, nil
}

package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solrelay/service/metrics"
	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const maxAddressLength = 44

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	Endpoint       string // label for metrics, e.g. RPC hostname
	Commitment     ConfirmationStatus
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	ReadRetries    int
	RetryBackoff   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Commitment == "" {
		o.Commitment = StatusConfirmed
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.ReadRetries < 0 {
		o.ReadRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
	return o
}

// Client is the relay's view of a Solana node. It is built once at startup
// and never mutated afterwards, so a single instance is shared read-only by
// all request handlers.
type Client struct {
	rpc     RPCClient
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Solana client.
// If m is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, opts Options, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:     rpcClient,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "solana_client"),
		metrics: m,
	}
}

// Commitment returns the confirmation level the client waits for.
func (c *Client) Commitment() ConfirmationStatus {
	return c.opts.Commitment
}

// ParseAddress validates a base58 account address without any network I/O.
func ParseAddress(address string) (solana.PublicKey, error) {
	if address == "" {
		return solana.PublicKey{}, relayerr.New(relayerr.KindInvalidAddress, "address is required")
	}
	if len(address) > maxAddressLength {
		return solana.PublicKey{}, relayerr.New(relayerr.KindInvalidAddress, "address too long: maximum length is %d characters", maxAddressLength)
	}
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, relayerr.Wrap(relayerr.KindInvalidAddress, err, "invalid address %q", address)
	}
	return pk, nil
}

// GetBalance returns the balance of address in lamports and whole SOL.
// The address is validated before any RPC call.
func (c *Client) GetBalance(ctx context.Context, address string) (Balance, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return Balance{}, err
	}

	res, err := retryRead(ctx, c, "GetBalance", func(ctx context.Context) (*rpc.GetBalanceResult, error) {
		return c.rpc.GetBalance(ctx, pk, commitmentType(c.opts.Commitment))
	})
	if err != nil {
		return Balance{}, err
	}
	if res == nil {
		return Balance{}, relayerr.New(relayerr.KindUpstreamUnavailable, "empty balance response")
	}

	c.logger.DebugContext(ctx, "fetched balance", "address", pk.String(), "lamports", res.Value)

	return Balance{
		Address:  pk.String(),
		Lamports: res.Value,
		SOL:      LamportsToSOL(res.Value),
		Slot:     res.Context.Slot,
	}, nil
}

// GetRecentAnchor fetches a fresh recent blockhash. It is never cached.
func (c *Client) GetRecentAnchor(ctx context.Context) (Anchor, error) {
	res, err := retryRead(ctx, c, "GetLatestBlockhash", func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, commitmentType(c.opts.Commitment))
	})
	if err != nil {
		return Anchor{}, err
	}
	if res == nil || res.Value == nil {
		return Anchor{}, relayerr.New(relayerr.KindUpstreamUnavailable, "empty blockhash response")
	}
	return Anchor{
		Blockhash:            res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}, nil
}

// Submit sends a signed transaction. It is never retried: a failed or
// timed-out send does not mean the ledger did not apply it.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (Receipt, error) {
	if tx == nil || len(tx.Signatures) == 0 {
		return Receipt{}, relayerr.New(relayerr.KindSubmissionRejected, "transaction is not signed")
	}
	expected := tx.Signatures[0]

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: commitmentType(c.opts.Commitment),
	})
	c.recordCall("SendTransaction", err, start)

	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			c.logger.WarnContext(ctx, "transaction rejected by node",
				"signature", expected.String(),
				"code", rpcErr.Code,
				"message", rpcErr.Message,
			)
			return Receipt{}, relayerr.Wrap(relayerr.KindSubmissionRejected, err, "transaction rejected").WithSignature(expected.String())
		}
		c.logger.ErrorContext(ctx, "transaction submission failed, ledger state unknown",
			"signature", expected.String(),
			"error", err,
		)
		return Receipt{}, relayerr.Wrap(relayerr.KindUpstreamUnavailable, err, "submit transaction").WithSignature(expected.String())
	}

	if sig == (solana.Signature{}) {
		sig = expected
	}
	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return Receipt{Signature: sig}, nil
}

// Confirm blocks until the transaction reaches the configured commitment,
// fails on-chain, or the confirmation timeout elapses.
func (c *Client) Confirm(ctx context.Context, receipt Receipt) (Confirmation, error) {
	sig := receipt.Signature
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		report, err := c.lookupStatus(waitCtx, sig, false)
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "signature status poll failed, will retry",
				"signature", sig.String(),
				"error", err,
			)
		case report.Err != "":
			c.metrics.RecordConfirmationWait("rejected", time.Since(start).Seconds())
			return Confirmation{}, relayerr.New(relayerr.KindSubmissionRejected, "transaction failed on-chain: %s", report.Err).WithSignature(sig.String())
		case report.Found && report.Status.Reaches(c.opts.Commitment):
			c.metrics.RecordConfirmationWait("confirmed", time.Since(start).Seconds())
			c.logger.InfoContext(ctx, "transaction confirmed",
				"signature", sig.String(),
				"status", report.Status,
				"slot", report.Slot,
				"wait", time.Since(start),
			)
			return Confirmation{Status: report.Status, Slot: report.Slot}, nil
		}

		select {
		case <-waitCtx.Done():
			c.metrics.RecordConfirmationWait("timeout", time.Since(start).Seconds())
			msg := fmt.Sprintf("transaction not %s within %v; check balance or history before resubmitting", c.opts.Commitment, c.opts.ConfirmTimeout)
			if ctx.Err() != nil {
				msg = "confirmation wait cancelled; check balance or history before resubmitting"
			}
			return Confirmation{}, relayerr.New(relayerr.KindConfirmationTimeout, "%s", msg).WithSignature(sig.String())
		case <-ticker.C:
		}
	}
}

// SignatureStatus performs a single status lookup, searching ledger history.
// It never submits anything.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (*StatusReport, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	report, err := c.lookupStatus(ctx, sig, true)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindUpstreamUnavailable, err, "get signature status")
	}
	return report, nil
}

// BlockHeight returns the current block height. A transaction whose anchor's
// LastValidBlockHeight is below it can no longer be included.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	return retryRead(ctx, c, "GetBlockHeight", func(ctx context.Context) (uint64, error) {
		return c.rpc.GetBlockHeight(ctx, commitmentType(c.opts.Commitment))
	})
}

func (c *Client) lookupStatus(ctx context.Context, sig solana.Signature, searchHistory bool) (*StatusReport, error) {
	start := time.Now()
	res, err := c.rpc.GetSignatureStatuses(ctx, searchHistory, sig)
	c.recordCall("GetSignatureStatuses", err, start)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return report, nil
	}
	st := res.Value[0]
	report.Found = true
	report.Slot = st.Slot
	report.Status = ConfirmationStatus(st.ConfirmationStatus)
	if st.Err != nil {
		report.Err = fmt.Sprintf("%v", st.Err)
	}
	return report, nil
}

// retryRead runs a read-only RPC call with bounded exponential backoff.
// Only idempotent reads may use it.
func retryRead[T any](ctx context.Context, c *Client, method string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := c.opts.ReadRetries + 1
	backoff := c.opts.RetryBackoff

	var lastErr error
	for attempt := range attempts {
		start := time.Now()
		out, err := call(ctx)
		c.recordCall(method, err, start)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryableRead(err) {
			c.logger.WarnContext(ctx, "rpc read rejected", "method", method, "error", err)
			return zero, relayerr.Wrap(relayerr.KindUpstreamUnavailable, err, "%s rejected by rpc node", method)
		}
		if attempt == attempts-1 {
			break
		}
		c.logger.WarnContext(ctx, "rpc read failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		c.metrics.RecordRPCRetry(method)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, relayerr.Wrap(relayerr.KindUpstreamUnavailable, ctx.Err(), "%s cancelled", method)
		case <-timer.C:
		}
		backoff *= 2
	}

	c.logger.ErrorContext(ctx, "rpc read failed", "method", method, "attempts", attempts, "error", lastErr)
	return zero, relayerr.Wrap(relayerr.KindUpstreamUnavailable, lastErr, "%s failed after %d attempts", method, attempts)
}

// retryableRead reports whether a failed read is worth repeating. A JSON-RPC
// error response is the node's answer and repeats the same way.
func retryableRead(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	if kind := relayerr.KindOf(err); kind != "" {
		return relayerr.Retryable(kind)
	}
	return true
}

func (c *Client) recordCall(method string, err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.opts.Endpoint, time.Since(start).Seconds())
}

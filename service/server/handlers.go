package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/solrelay/service/auth"
	"github.com/brojonat/solrelay/service/balance"
	"github.com/brojonat/solrelay/service/db"
	"github.com/brojonat/solrelay/service/idempotency"
	"github.com/brojonat/solrelay/service/metrics"
	natspkg "github.com/brojonat/solrelay/service/nats"
	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/brojonat/solrelay/service/solana"
	"github.com/brojonat/solrelay/service/temporal"
	"github.com/brojonat/solrelay/service/transfer"
)

const (
	maxTransferBodySize = 64 << 10 // 64KiB; a transfer body is a few hundred bytes
	defaultListLimit    = 100
	maxListLimit        = 1000

	// reconcileWindow bounds how long reconciliation watches a signature.
	// The blockhash expires well before this.
	reconcileWindow = 10 * time.Minute

	// recordTimeout bounds the bookkeeping done after a transfer returns.
	recordTimeout = 5 * time.Second
)

// TransferStore is the subset of the history store the handlers use.
type TransferStore interface {
	CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error)
	ListTransfersByAddress(ctx context.Context, params db.ListTransfersParams) ([]*db.Transfer, error)
	CountTransfersByAddress(ctx context.Context, address string) (int64, error)
}

// TransferPublisher publishes transfer events.
type TransferPublisher interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Signature string `json:"signature,omitempty"`
	Status    string `json:"status,omitempty"`
}

// balanceResponse is the JSON response format for a balance query.
type balanceResponse struct {
	Address  string  `json:"address"`
	Balance  float64 `json:"balance"`
	Lamports uint64  `json:"lamports"`
	Slot     uint64  `json:"slot,omitempty"`
}

// transferResponse is the JSON response format for a completed transfer.
type transferResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	Slot      uint64 `json:"slot,omitempty"`
}

// handleBalance returns a handler that reports the balance of an account.
// GET /api/v1/balance/{address}
// GET /api/v1/wallets/{address}/balance
func handleBalance(svc *balance.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		subject := auth.SubjectFromContext(r.Context())

		bal, err := svc.Query(r.Context(), subject, address)
		if err != nil {
			logger.DebugContext(r.Context(), "balance query failed", "address", address, "error", err)
			writeError(w, logger, err, nil)
			return
		}

		writeJSON(w, balanceResponse{
			Address:  bal.Address,
			Balance:  bal.SOL,
			Lamports: bal.Lamports,
			Slot:     bal.Slot,
		}, http.StatusOK)
	})
}

// transferHandler submits transfers. It is the only route that moves funds.
// POST /api/v1/transfers
type transferHandler struct {
	executor   *transfer.Executor
	limiter    *subjectLimiter
	guard      idempotency.Guard
	store      TransferStore      // optional
	publisher  TransferPublisher  // optional
	reconciler temporal.Reconciler // optional
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func (h *transferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := auth.SubjectFromContext(ctx)
	if subject.IsZero() {
		writeError(w, h.logger, relayerr.New(relayerr.KindUnauthenticated, "transfer requires an authenticated subject"), nil)
		return
	}

	if !h.limiter.allow(string(subject), h.now()) {
		h.metrics.RecordTransferRateLimited()
		w.Header().Set("Retry-After", "1")
		writeError(w, h.logger, relayerr.New(relayerr.KindRateLimited, "too many transfer requests"), nil)
		return
	}

	idemKey := r.Header.Get(idempotency.HeaderName)
	if idemKey != "" {
		if err := idempotency.ValidateKey(idemKey); err != nil {
			writeError(w, h.logger, err, nil)
			return
		}
	}

	req, err := decodeTransferRequest(w, r)
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	defer req.Zero()

	if idemKey != "" {
		if err := h.guard.Reserve(ctx, string(subject), idemKey); err != nil {
			if relayerr.KindOf(err) == relayerr.KindDuplicateRequest {
				h.metrics.RecordDuplicateTransfer()
			}
			writeError(w, h.logger, err, nil)
			return
		}
	}

	receipt, err := h.executor.Execute(ctx, req)

	if idemKey != "" {
		h.settleIdempotencyKey(ctx, string(subject), idemKey, receipt)
	}
	if receipt != nil {
		h.record(ctx, subject, receipt, err)
	}

	if err != nil {
		writeError(w, h.logger, err, receipt)
		return
	}

	h.logger.InfoContext(ctx, "transfer completed",
		"subject", subject,
		"signature", receipt.Signature,
		"sender", receipt.Sender,
		"recipient", receipt.Recipient,
		"lamports", receipt.Lamports,
		"status", receipt.Status,
	)

	writeJSON(w, transferResponse{
		Success:   true,
		Signature: receipt.Signature,
		Sender:    receipt.Sender,
		Recipient: receipt.Recipient,
		Lamports:  receipt.Lamports,
		Amount:    solana.FormatLamports(receipt.Lamports),
		Status:    receipt.Status,
		Slot:      receipt.Slot,
	}, http.StatusOK)
}

// decodeTransferRequest reads the body into a request and zeroes the raw
// buffer before returning.
func decodeTransferRequest(w http.ResponseWriter, r *http.Request) (*transfer.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTransferBodySize)
	body, err := io.ReadAll(r.Body)
	defer clear(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, relayerr.New(relayerr.KindInvalidRequest, "request body too large: maximum size is %d bytes", maxTransferBodySize)
		}
		return nil, relayerr.Wrap(relayerr.KindInvalidRequest, err, "failed to read request body")
	}

	var req transfer.Request
	if err := json.Unmarshal(body, &req); err != nil {
		req.Zero()
		return nil, relayerr.New(relayerr.KindInvalidRequest, "invalid request body: must be valid JSON")
	}
	return &req, nil
}

// settleIdempotencyKey frees the key when nothing was signed, and otherwise
// pins it to the signature so a retry can be pointed at the first attempt.
func (h *transferHandler) settleIdempotencyKey(ctx context.Context, subject, key string, receipt *transfer.Receipt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var err error
	if receipt == nil {
		err = h.guard.Release(ctx, subject, key)
	} else {
		err = h.guard.Complete(ctx, subject, key, receipt.Signature)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to settle idempotency key", "subject", subject, "error", err)
	}
}

// record stores the outcome, publishes it, and hands unknown outcomes to
// reconciliation. None of these can change the response.
func (h *transferHandler) record(ctx context.Context, subject auth.Subject, receipt *transfer.Receipt, execErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	params := db.CreateTransferParams{
		Signature:            receipt.Signature,
		Subject:              string(subject),
		Sender:               receipt.Sender,
		Recipient:            receipt.Recipient,
		Lamports:             int64(receipt.Lamports),
		Status:               receipt.Status,
		Blockhash:            receipt.Blockhash,
		LastValidBlockHeight: int64(receipt.LastValidBlockHeight),
	}
	if receipt.Slot > 0 {
		slot := int64(receipt.Slot)
		params.Slot = &slot
	}
	if execErr != nil {
		kind := string(relayerr.KindOf(execErr))
		msg := execErr.Error()
		params.ErrorKind = &kind
		params.ErrorMessage = &msg
	}

	event := &natspkg.TransferEvent{
		Signature:   params.Signature,
		Sender:      params.Sender,
		Recipient:   params.Recipient,
		Lamports:    params.Lamports,
		Status:      params.Status,
		Slot:        params.Slot,
		CreatedAt:   h.now().UTC(),
		PublishedAt: h.now().UTC(),
	}
	if params.ErrorKind != nil {
		event.ErrorKind = *params.ErrorKind
	}

	if h.store != nil {
		stored, err := h.store.CreateTransfer(ctx, params)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to record transfer",
				"signature", receipt.Signature,
				"error", err,
			)
		} else {
			event = natspkg.FromDBTransfer(stored)
		}
	}

	if h.publisher != nil {
		if err := h.publisher.PublishTransfer(ctx, event); err != nil {
			h.logger.ErrorContext(ctx, "failed to publish transfer event",
				"signature", receipt.Signature,
				"error", err,
			)
		}
	}

	if receipt.Status == transfer.StatusUnknown && h.reconciler != nil {
		err := h.reconciler.StartReconcile(ctx, temporal.ReconcileTransferInput{
			Signature:            receipt.Signature,
			Sender:               receipt.Sender,
			Recipient:            receipt.Recipient,
			Lamports:             receipt.Lamports,
			LastValidBlockHeight: receipt.LastValidBlockHeight,
			Deadline:             h.now().Add(reconcileWindow),
		})
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to start reconciliation",
				"signature", receipt.Signature,
				"error", err,
			)
		}
	}
}

// handleListTransactions returns a handler that lists transfers submitted
// through the relay that involve an address.
// GET /api/v1/transactions?address=ADDRESS&limit=N&offset=N
func handleListTransactions(store TransferStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, errorResponse{Error: "transaction history is not enabled"}, http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		address := query.Get("address")
		if address == "" {
			writeError(w, logger, relayerr.New(relayerr.KindMissingFields, "address query parameter is required"), nil)
			return
		}
		if _, err := solana.ParseAddress(address); err != nil {
			writeError(w, logger, err, nil)
			return
		}

		limit, err := parseIntParam(query.Get("limit"), defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, logger, relayerr.Wrap(relayerr.KindInvalidRequest, err, "invalid limit parameter"), nil)
			return
		}
		offset, err := parseIntParam(query.Get("offset"), 0, 0, -1)
		if err != nil {
			writeError(w, logger, relayerr.Wrap(relayerr.KindInvalidRequest, err, "invalid offset parameter"), nil)
			return
		}

		transfers, err := store.ListTransfersByAddress(r.Context(), db.ListTransfersParams{
			Address: address,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transfers", "address", address, "error", err)
			writeError(w, logger, err, nil)
			return
		}

		total, err := store.CountTransfersByAddress(r.Context(), address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count transfers", "address", address, "error", err)
			writeError(w, logger, err, nil)
			return
		}

		if transfers == nil {
			transfers = []*db.Transfer{}
		}
		logger.DebugContext(r.Context(), "transfers listed", "address", address, "count", len(transfers))

		writeJSON(w, map[string]interface{}{
			"transactions": transfers,
			"count":        len(transfers),
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleDashboard greets the authenticated subject.
// GET /api/v1/dashboard
func handleDashboard() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := auth.SubjectFromContext(r.Context())
		writeJSON(w, map[string]interface{}{
			"success": true,
			"subject": subject,
			"message": fmt.Sprintf("Welcome to your dashboard, %s", subject),
		}, http.StatusOK)
	})
}

// parseIntParam parses an optional integer query parameter. hi < 0 means
// unbounded.
func parseIntParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < lo {
		return 0, fmt.Errorf("must be at least %d", lo)
	}
	if hi >= 0 && n > hi {
		return 0, fmt.Errorf("cannot exceed %d", hi)
	}
	return n, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes err as a structured JSON error. Errors outside the
// taxonomy are reported as a generic internal error.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, receipt *transfer.Receipt) {
	kind := relayerr.KindOf(err)
	resp := errorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Signature: relayerr.SignatureOf(err),
	}
	if kind == "" {
		logger.Error("unclassified error", "error", err)
		resp.Error = "internal server error"
		resp.Kind = "internal"
	}
	if receipt != nil {
		resp.Status = receipt.Status
		if resp.Signature == "" {
			resp.Signature = receipt.Signature
		}
	}
	writeJSON(w, resp, relayerr.HTTPStatus(kind))
}

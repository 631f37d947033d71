package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solrelay/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store provides database operations for the transfer history.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Transfer is a transfer submitted through the relay.
type Transfer struct {
	ID                   uuid.UUID `json:"id"`
	Signature            string    `json:"signature"`
	Subject              string    `json:"subject"`
	Sender               string    `json:"sender"`
	Recipient            string    `json:"recipient"`
	Lamports             int64     `json:"lamports"`
	Status               string    `json:"status"`
	ErrorKind            *string   `json:"error_kind,omitempty"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	Blockhash            string    `json:"blockhash"`
	LastValidBlockHeight int64     `json:"last_valid_block_height"`
	Slot                 *int64    `json:"slot,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// CreateTransferParams contains the parameters for recording a transfer.
type CreateTransferParams struct {
	Signature            string
	Subject              string
	Sender               string
	Recipient            string
	Lamports             int64
	Status               string
	ErrorKind            *string
	ErrorMessage         *string
	Blockhash            string
	LastValidBlockHeight int64
	Slot                 *int64
}

// UpdateTransferStatusParams contains the fields reconciliation may change.
type UpdateTransferStatusParams struct {
	Signature    string
	Status       string
	Slot         *int64
	ErrorKind    *string
	ErrorMessage *string
}

// ListTransfersParams contains pagination parameters.
type ListTransfersParams struct {
	Address string
	Limit   int32
	Offset  int32
}

const transferColumns = `id, signature, subject, sender, recipient, lamports, status,
	error_kind, error_message, blockhash, last_valid_block_height, slot, created_at, updated_at`

// CreateTransfer inserts a new transfer record.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (id, signature, subject, sender, recipient, lamports, status,
			error_kind, error_message, blockhash, last_valid_block_height, slot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+transferColumns,
		uuid.New(),
		params.Signature,
		params.Subject,
		params.Sender,
		params.Recipient,
		params.Lamports,
		params.Status,
		pgtextFromStringPtr(params.ErrorKind),
		pgtextFromStringPtr(params.ErrorMessage),
		params.Blockhash,
		params.LastValidBlockHeight,
		pgint8FromInt64Ptr(params.Slot),
	)
	t, err := scanTransfer(row)
	s.metrics.RecordDBQuery("insert", "transfers", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTransferStatus sets the status of the transfer with the given
// signature. It returns pgx.ErrNoRows if no such transfer exists.
func (s *Store) UpdateTransferStatus(ctx context.Context, params UpdateTransferStatusParams) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2,
			slot = COALESCE($3, slot),
			error_kind = $4,
			error_message = $5,
			updated_at = NOW()
		WHERE signature = $1
		RETURNING `+transferColumns,
		params.Signature,
		params.Status,
		pgint8FromInt64Ptr(params.Slot),
		pgtextFromStringPtr(params.ErrorKind),
		pgtextFromStringPtr(params.ErrorMessage),
	)
	t, err := scanTransfer(row)
	s.metrics.RecordDBQuery("update", "transfers", time.Since(start).Seconds(), ignoreNoRows(err))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransferBySignature retrieves a transfer by its signature.
// It returns pgx.ErrNoRows if no such transfer exists.
func (s *Store) GetTransferBySignature(ctx context.Context, signature string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE signature = $1`, signature)
	t, err := scanTransfer(row)
	s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), ignoreNoRows(err))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransfersByAddress returns transfers where address is the sender or the
// recipient, newest first.
func (s *Store) ListTransfersByAddress(ctx context.Context, params ListTransfersParams) ([]*Transfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE sender = $1 OR recipient = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		params.Address, params.Limit, params.Offset,
	)
	if err != nil {
		s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), err)
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), err)
			return nil, err
		}
		transfers = append(transfers, t)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// CountTransfersByAddress counts transfers where address is sender or recipient.
func (s *Store) CountTransfersByAddress(ctx context.Context, address string) (int64, error) {
	start := time.Now()
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transfers WHERE sender = $1 OR recipient = $1`, address,
	).Scan(&n)
	s.metrics.RecordDBQuery("count", "transfers", time.Since(start).Seconds(), err)
	return n, err
}

// ListTransfersByStatus returns up to limit transfers in the given status,
// oldest first. Operators use it to find transfers still marked unknown.
func (s *Store) ListTransfersByStatus(ctx context.Context, status string, limit int32) ([]*Transfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		status, limit,
	)
	if err != nil {
		s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), err)
		return nil, err
	}
	transfers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Transfer, error) {
		return scanTransfer(row)
	})
	s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), err)
	return transfers, err
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		t            Transfer
		errorKind    pgtype.Text
		errorMessage pgtype.Text
		slot         pgtype.Int8
	)
	err := row.Scan(
		&t.ID,
		&t.Signature,
		&t.Subject,
		&t.Sender,
		&t.Recipient,
		&t.Lamports,
		&t.Status,
		&errorKind,
		&errorMessage,
		&t.Blockhash,
		&t.LastValidBlockHeight,
		&slot,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ErrorKind = stringPtrFromPgtext(errorKind)
	t.ErrorMessage = stringPtrFromPgtext(errorMessage)
	t.Slot = int64PtrFromPgint8(slot)
	return &t, nil
}

// ignoreNoRows keeps lookups of absent rows out of the error metrics.
func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// Helper functions for converting between Go types and pgtype types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *i, Valid: true}
}

func int64PtrFromPgint8(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}

package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	bob   = "So11111111111111111111111111111111111111112"
	carol = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func transferParams(sig, sender, recipient string) CreateTransferParams {
	return CreateTransferParams{
		Signature:            sig,
		Subject:              "user-1",
		Sender:               sender,
		Recipient:            recipient,
		Lamports:             1_500_000_000,
		Status:               "confirmed",
		Blockhash:            "GHtXQBsoZHVnNFa9YevAzFr17DJjgHXk3ycTKD5xD3Zi",
		LastValidBlockHeight: 1000,
	}
}

func TestCreateTransfer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("confirmed transfer", func(t *testing.T) {
		slot := int64(321)
		params := transferParams("sig-confirmed", alice, bob)
		params.Slot = &slot

		tr, err := store.CreateTransfer(ctx, params)
		require.NoError(t, err)

		assert.NotEqual(t, [16]byte{}, [16]byte(tr.ID))
		assert.Equal(t, "sig-confirmed", tr.Signature)
		assert.Equal(t, int64(1_500_000_000), tr.Lamports)
		assert.Equal(t, "confirmed", tr.Status)
		require.NotNil(t, tr.Slot)
		assert.Equal(t, int64(321), *tr.Slot)
		assert.Nil(t, tr.ErrorKind)
		assert.WithinDuration(t, time.Now(), tr.CreatedAt, 5*time.Second)
	})

	t.Run("unknown transfer with error kind", func(t *testing.T) {
		kind := "confirmation_timeout"
		msg := "not confirmed within 30s"
		params := transferParams("sig-unknown", alice, bob)
		params.Status = "unknown"
		params.ErrorKind = &kind
		params.ErrorMessage = &msg

		tr, err := store.CreateTransfer(ctx, params)
		require.NoError(t, err)
		require.NotNil(t, tr.ErrorKind)
		assert.Equal(t, kind, *tr.ErrorKind)
		assert.Nil(t, tr.Slot)
	})

	t.Run("duplicate signature", func(t *testing.T) {
		_, err := store.CreateTransfer(ctx, transferParams("sig-confirmed", alice, bob))
		assert.Error(t, err)
	})
}

func TestUpdateTransferStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	kind := "confirmation_timeout"
	params := transferParams("sig-reconcile", alice, bob)
	params.Status = "unknown"
	params.ErrorKind = &kind
	_, err := store.CreateTransfer(ctx, params)
	require.NoError(t, err)

	slot := int64(999)
	updated, err := store.UpdateTransferStatus(ctx, UpdateTransferStatusParams{
		Signature: "sig-reconcile",
		Status:    "finalized",
		Slot:      &slot,
	})
	require.NoError(t, err)
	assert.Equal(t, "finalized", updated.Status)
	assert.Nil(t, updated.ErrorKind)
	require.NotNil(t, updated.Slot)
	assert.Equal(t, int64(999), *updated.Slot)
	assert.True(t, !updated.UpdatedAt.Before(updated.CreatedAt))

	got, err := store.GetTransferBySignature(ctx, "sig-reconcile")
	require.NoError(t, err)
	assert.Equal(t, "finalized", got.Status)

	_, err = store.UpdateTransferStatus(ctx, UpdateTransferStatusParams{Signature: "missing", Status: "dropped"})
	assert.True(t, errors.Is(err, pgx.ErrNoRows))
}

func TestGetTransferBySignature_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	_, err := store.GetTransferBySignature(context.Background(), "nope")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestListTransfersByAddress(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.CreateTransfer(ctx, transferParams("sig-1", alice, bob))
	require.NoError(t, err)
	_, err = store.CreateTransfer(ctx, transferParams("sig-2", bob, alice))
	require.NoError(t, err)
	_, err = store.CreateTransfer(ctx, transferParams("sig-3", bob, carol))
	require.NoError(t, err)

	// Make ordering deterministic.
	store.MustExec(t, `UPDATE transfers SET created_at = NOW() - INTERVAL '1 hour' WHERE signature = 'sig-1'`)

	t.Run("sender or recipient, newest first", func(t *testing.T) {
		transfers, err := store.ListTransfersByAddress(ctx, ListTransfersParams{Address: alice, Limit: 10})
		require.NoError(t, err)
		require.Len(t, transfers, 2)
		assert.Equal(t, "sig-2", transfers[0].Signature)
		assert.Equal(t, "sig-1", transfers[1].Signature)
	})

	t.Run("pagination", func(t *testing.T) {
		transfers, err := store.ListTransfersByAddress(ctx, ListTransfersParams{Address: alice, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		assert.Equal(t, "sig-1", transfers[0].Signature)
	})

	t.Run("count", func(t *testing.T) {
		n, err := store.CountTransfersByAddress(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("no transfers", func(t *testing.T) {
		transfers, err := store.ListTransfersByAddress(ctx, ListTransfersParams{Address: "nobody", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, transfers)
	})
}

func TestListTransfersByStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	p := transferParams("sig-a", alice, bob)
	p.Status = "unknown"
	_, err := store.CreateTransfer(ctx, p)
	require.NoError(t, err)
	_, err = store.CreateTransfer(ctx, transferParams("sig-b", alice, bob))
	require.NoError(t, err)

	unknown, err := store.ListTransfersByStatus(ctx, "unknown", 10)
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	assert.Equal(t, "sig-a", unknown[0].Signature)
}

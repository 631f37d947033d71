package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/brojonat/solrelay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger implements Ledger, recording what it was asked to do.
type fakeLedger struct {
	mu sync.Mutex

	anchorErr  error
	submitErr  error
	confirmErr error
	status     solana.ConfirmationStatus

	anchorCalls  int
	submitted    []*solanago.Transaction
	confirmCalls int
}

func (f *fakeLedger) GetRecentAnchor(ctx context.Context) (solana.Anchor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchorCalls++
	if f.anchorErr != nil {
		return solana.Anchor{}, f.anchorErr
	}
	return solana.Anchor{Blockhash: solanago.Hash{byte(f.anchorCalls)}, LastValidBlockHeight: 500}, nil
}

func (f *fakeLedger) Submit(ctx context.Context, tx *solanago.Transaction) (solana.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, tx)
	if f.submitErr != nil {
		return solana.Receipt{}, f.submitErr
	}
	return solana.Receipt{Signature: tx.Signatures[0]}, nil
}

func (f *fakeLedger) Confirm(ctx context.Context, r solana.Receipt) (solana.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if f.confirmErr != nil {
		return solana.Confirmation{}, f.confirmErr
	}
	status := f.status
	if status == "" {
		status = solana.StatusConfirmed
	}
	return solana.Confirmation{Status: status, Slot: 77}, nil
}

func (f *fakeLedger) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anchorCalls + len(f.submitted) + f.confirmCalls
}

func newTestExecutor(ledger Ledger) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(ledger, Options{VerifySender: true}, nil, logger)
}

const recipient = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

// newRequest returns a valid request and the backing secret so tests can
// check it was zeroed.
func newRequest(t *testing.T, amount string) (*Request, []byte) {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	secret := make([]byte, len(key))
	copy(secret, key)
	return &Request{
		SenderAddress:    key.PublicKey().String(),
		SenderSecretKey:  NewSecretKey(secret),
		RecipientAddress: recipient,
		Amount:           Amount(amount),
	}, secret
}

func assertZeroed(t *testing.T, b []byte) {
	t.Helper()
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestExecute_Success(t *testing.T) {
	ledger := &fakeLedger{}
	exec := newTestExecutor(ledger)
	req, secret := newRequest(t, "1.5")
	sender := req.SenderAddress

	receipt, err := exec.Execute(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.NotEmpty(t, receipt.Signature)
	assert.Equal(t, uint64(1_500_000_000), receipt.Lamports)
	assert.Equal(t, StatusConfirmed, receipt.Status)
	assert.Equal(t, uint64(77), receipt.Slot)
	assert.Equal(t, sender, receipt.Sender)
	assert.Equal(t, recipient, receipt.Recipient)

	require.Len(t, ledger.submitted, 1)
	tx := ledger.submitted[0]
	decoded, err := solana.DecodeTransfer(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500000000), decoded.Lamports)
	assert.Equal(t, sender, tx.Message.AccountKeys[0].String())
	assert.NoError(t, tx.VerifySignatures())
	assert.Equal(t, tx.Signatures[0].String(), receipt.Signature)

	assertZeroed(t, secret)
}

func TestExecute_ValidationHappensBeforeNetworkIO(t *testing.T) {
	validKey, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	other, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	tampered := make([]byte, 64)
	copy(tampered, validKey)
	tampered[63] ^= 0xff

	tests := []struct {
		name     string
		req      Request
		wantKind relayerr.Kind
	}{
		{
			name:     "missing everything",
			req:      Request{},
			wantKind: relayerr.KindMissingFields,
		},
		{
			name: "missing key",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				RecipientAddress: recipient,
				Amount:           "1",
			},
			wantKind: relayerr.KindMissingFields,
		},
		{
			name: "bad sender address",
			req: Request{
				SenderAddress:    "nope",
				SenderSecretKey:  NewSecretKey(append([]byte(nil), validKey...)),
				RecipientAddress: recipient,
				Amount:           "1",
			},
			wantKind: relayerr.KindInvalidAddress,
		},
		{
			name: "zero amount",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				SenderSecretKey:  NewSecretKey(append([]byte(nil), validKey...)),
				RecipientAddress: recipient,
				Amount:           "0",
			},
			wantKind: relayerr.KindInvalidAmount,
		},
		{
			name: "negative amount",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				SenderSecretKey:  NewSecretKey(append([]byte(nil), validKey...)),
				RecipientAddress: recipient,
				Amount:           "-2",
			},
			wantKind: relayerr.KindInvalidAmount,
		},
		{
			name: "bad recipient",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				SenderSecretKey:  NewSecretKey(append([]byte(nil), validKey...)),
				RecipientAddress: "0x1234",
				Amount:           "1",
			},
			wantKind: relayerr.KindInvalidAddress,
		},
		{
			name: "wrong key length",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				SenderSecretKey:  NewSecretKey(make([]byte, 32)),
				RecipientAddress: recipient,
				Amount:           "1",
			},
			wantKind: relayerr.KindInvalidKeyMaterial,
		},
		{
			name: "public half does not match seed",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				SenderSecretKey:  NewSecretKey(tampered),
				RecipientAddress: recipient,
				Amount:           "1",
			},
			wantKind: relayerr.KindInvalidKeyMaterial,
		},
		{
			name: "key for a different sender",
			req: Request{
				SenderAddress:    validKey.PublicKey().String(),
				SenderSecretKey:  NewSecretKey(append([]byte(nil), other...)),
				RecipientAddress: recipient,
				Amount:           "1",
			},
			wantKind: relayerr.KindInvalidKeyMaterial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			exec := newTestExecutor(ledger)
			req := tt.req

			receipt, err := exec.Execute(context.Background(), &req)

			require.Error(t, err)
			assert.Nil(t, receipt)
			assert.Equal(t, tt.wantKind, relayerr.KindOf(err))
			assert.Equal(t, 0, ledger.networkCalls())
		})
	}
}

func TestExecute_MissingFieldsNamesEachField(t *testing.T) {
	exec := newTestExecutor(&fakeLedger{})
	req := &Request{SenderAddress: recipient, Amount: "1"}

	_, err := exec.Execute(context.Background(), req)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "senderPrivateKey")
	assert.Contains(t, err.Error(), "recipientAddress")
	assert.NotContains(t, err.Error(), "amount")
}

func TestExecute_ConfirmationTimeoutIsDistinctFromRejection(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		ledger := &fakeLedger{confirmErr: relayerr.New(relayerr.KindConfirmationTimeout, "not confirmed").WithSignature("sig")}
		exec := newTestExecutor(ledger)
		req, secret := newRequest(t, "0.1")

		receipt, err := exec.Execute(context.Background(), req)

		require.Error(t, err)
		assert.True(t, errors.Is(err, relayerr.ErrConfirmationTimeout))
		assert.False(t, errors.Is(err, relayerr.ErrSubmissionRejected))
		require.NotNil(t, receipt)
		assert.Equal(t, StatusUnknown, receipt.Status)
		assert.NotEmpty(t, receipt.Signature)
		assert.Len(t, ledger.submitted, 1)
		assertZeroed(t, secret)
	})

	t.Run("rejected", func(t *testing.T) {
		ledger := &fakeLedger{submitErr: relayerr.New(relayerr.KindSubmissionRejected, "insufficient funds")}
		exec := newTestExecutor(ledger)
		req, secret := newRequest(t, "0.1")

		receipt, err := exec.Execute(context.Background(), req)

		require.Error(t, err)
		assert.True(t, errors.Is(err, relayerr.ErrSubmissionRejected))
		require.NotNil(t, receipt)
		assert.Equal(t, StatusRejected, receipt.Status)
		assert.Equal(t, 0, ledger.confirmCalls)
		assertZeroed(t, secret)
	})
}

func TestExecute_AnchorFailureIsUpstreamUnavailable(t *testing.T) {
	ledger := &fakeLedger{anchorErr: relayerr.New(relayerr.KindUpstreamUnavailable, "down")}
	exec := newTestExecutor(ledger)
	req, secret := newRequest(t, "1")

	receipt, err := exec.Execute(context.Background(), req)

	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.Equal(t, relayerr.KindUpstreamUnavailable, relayerr.KindOf(err))
	assert.Empty(t, ledger.submitted)
	assertZeroed(t, secret)
}

func TestExecute_ConcurrentTransfersAreIndependent(t *testing.T) {
	ledger := &fakeLedger{}
	exec := newTestExecutor(ledger)

	reqA, _ := newRequest(t, "1")
	reqB, _ := newRequest(t, "2")
	senders := map[string]uint64{
		reqA.SenderAddress: 1_000_000_000,
		reqB.SenderAddress: 2_000_000_000,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []*Request{reqA, reqB} {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			_, errs[i] = exec.Execute(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 2, ledger.anchorCalls)
	require.Len(t, ledger.submitted, 2)

	for _, tx := range ledger.submitted {
		decoded, err := solana.DecodeTransfer(tx)
		require.NoError(t, err)
		want, ok := senders[decoded.From.String()]
		require.True(t, ok)
		assert.Equal(t, want, decoded.Lamports)
		assert.NoError(t, tx.VerifySignatures())
	}
	assert.NotEqual(t, ledger.submitted[0].Message.RecentBlockhash, ledger.submitted[1].Message.RecentBlockhash)
}

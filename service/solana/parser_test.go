package solana

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransfer_BuiltTransaction(t *testing.T) {
	sender := solana.MustPublicKeyFromBase58(testAddress)
	recipient := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	tx, lamports, err := BuildTransfer(sender, recipient.String(), "1.5", Anchor{Blockhash: solana.Hash{1}})
	require.NoError(t, err)

	decoded, err := DecodeTransfer(tx)

	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), lamports)
	assert.Equal(t, uint64(1_500_000_000), decoded.Lamports)
	assert.Equal(t, sender, decoded.From)
	assert.Equal(t, recipient, decoded.To)
}

func TestDecodeTransfer_HandBuiltMessage(t *testing.T) {
	fromAddr := solana.MustPublicKeyFromBase58(testAddress)
	toAddr := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	instructionData := make([]byte, 12)
	binary.LittleEndian.PutUint32(instructionData[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(instructionData[4:12], 1000000000)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{fromAddr, toAddr, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 2,
					Accounts:       []uint16{0, 1},
					Data:           instructionData,
				},
			},
		},
	}

	decoded, err := DecodeTransfer(tx)

	require.NoError(t, err)
	assert.Equal(t, uint64(1000000000), decoded.Lamports)
	assert.Equal(t, fromAddr, decoded.From)
	assert.Equal(t, toAddr, decoded.To)
}

func TestDecodeTransfer_Rejects(t *testing.T) {
	fromAddr := solana.MustPublicKeyFromBase58(testAddress)
	toAddr := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	memoProgram := solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	valid := make([]byte, 12)
	binary.LittleEndian.PutUint32(valid[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(valid[4:12], 5)

	createAccount := make([]byte, 12)
	binary.LittleEndian.PutUint32(createAccount[0:4], 0)

	tests := []struct {
		name        string
		tx          *solana.Transaction
		errContains string
	}{
		{name: "nil transaction", tx: nil, errContains: "nil transaction"},
		{
			name:        "no instructions",
			tx:          &solana.Transaction{},
			errContains: "expected 1 instruction",
		},
		{
			name: "wrong program",
			tx: &solana.Transaction{Message: solana.Message{
				AccountKeys:  []solana.PublicKey{fromAddr, toAddr, memoProgram},
				Instructions: []solana.CompiledInstruction{{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: valid}},
			}},
			errContains: "not a system program instruction",
		},
		{
			name: "short data",
			tx: &solana.Transaction{Message: solana.Message{
				AccountKeys:  []solana.PublicKey{fromAddr, toAddr, solana.SystemProgramID},
				Instructions: []solana.CompiledInstruction{{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: valid[:8]}},
			}},
			errContains: "too short",
		},
		{
			name: "not a transfer",
			tx: &solana.Transaction{Message: solana.Message{
				AccountKeys:  []solana.PublicKey{fromAddr, toAddr, solana.SystemProgramID},
				Instructions: []solana.CompiledInstruction{{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: createAccount}},
			}},
			errContains: "not a transfer instruction",
		},
		{
			name: "account index out of range",
			tx: &solana.Transaction{Message: solana.Message{
				AccountKeys:  []solana.PublicKey{fromAddr, toAddr, solana.SystemProgramID},
				Instructions: []solana.CompiledInstruction{{ProgramIDIndex: 2, Accounts: []uint16{0, 7}, Data: valid}},
			}},
			errContains: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTransfer(tt.tx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

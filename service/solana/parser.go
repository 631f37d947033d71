package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// TransferInstruction is a decoded System Program transfer.
type TransferInstruction struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// DecodeTransfer extracts the single System Program transfer from a
// transaction built by BuildTransfer. It reads the compiled message, so it
// reflects exactly what would be signed.
func DecodeTransfer(tx *solana.Transaction) (TransferInstruction, error) {
	if tx == nil {
		return TransferInstruction{}, fmt.Errorf("nil transaction")
	}
	if len(tx.Message.Instructions) != 1 {
		return TransferInstruction{}, fmt.Errorf("expected 1 instruction, got %d", len(tx.Message.Instructions))
	}

	instruction := tx.Message.Instructions[0]
	accountKeys := tx.Message.AccountKeys

	if int(instruction.ProgramIDIndex) >= len(accountKeys) {
		return TransferInstruction{}, fmt.Errorf("program index %d out of range", instruction.ProgramIDIndex)
	}
	if programID := accountKeys[instruction.ProgramIDIndex]; !programID.Equals(solana.SystemProgramID) {
		return TransferInstruction{}, fmt.Errorf("not a system program instruction: %s", programID)
	}

	return parseSystemTransfer(instruction, accountKeys)
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (TransferInstruction, error) {
	// [0..4]  = instruction type (u32, 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return TransferInstruction{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return TransferInstruction{}, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// Accounts: [from, to]
	if len(instruction.Accounts) < 2 {
		return TransferInstruction{}, fmt.Errorf("transfer needs 2 accounts, got %d", len(instruction.Accounts))
	}
	from, to := instruction.Accounts[0], instruction.Accounts[1]
	if int(from) >= len(accountKeys) || int(to) >= len(accountKeys) {
		return TransferInstruction{}, fmt.Errorf("account index out of range")
	}

	return TransferInstruction{
		From:     accountKeys[from],
		To:       accountKeys[to],
		Lamports: binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}

package solana

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Balance is a point-in-time account balance. It is never cached.
type Balance struct {
	Address  string  `json:"address"`
	Lamports uint64  `json:"lamports"`
	SOL      float64 `json:"balance"`
	Slot     uint64  `json:"slot"`
}

// Anchor is the recency anchor (recent blockhash) a transaction is built
// against. Anchors are fetched fresh for every transaction.
type Anchor struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Receipt identifies a submitted transaction.
type Receipt struct {
	Signature solana.Signature
}

// ConfirmationStatus is the commitment level a transaction reached.
type ConfirmationStatus string

const (
	StatusProcessed ConfirmationStatus = "processed"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFinalized ConfirmationStatus = "finalized"
)

// rank orders commitment levels so a wait for "confirmed" is satisfied by "finalized".
func (s ConfirmationStatus) rank() int {
	switch s {
	case StatusProcessed:
		return 1
	case StatusConfirmed:
		return 2
	case StatusFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches reports whether s is at or beyond target.
func (s ConfirmationStatus) Reaches(target ConfirmationStatus) bool {
	return s.rank() > 0 && s.rank() >= target.rank()
}

// Confirmation is the observed result of waiting on a Receipt.
type Confirmation struct {
	Status ConfirmationStatus
	Slot   uint64
}

// StatusReport is a single signature status lookup. Found is false when the
// node has no record of the signature.
type StatusReport struct {
	Found  bool
	Status ConfirmationStatus
	Slot   uint64
	Err    string
}

func commitmentType(s ConfirmationStatus) rpc.CommitmentType {
	switch s {
	case StatusProcessed:
		return rpc.CommitmentProcessed
	case StatusFinalized:
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

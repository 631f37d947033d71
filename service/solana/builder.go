package solana

import (
	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// BuildTransfer produces an unsigned single-instruction SOL transfer with the
// sender as fee payer. Recipient is validated before amount; the amount is
// returned in lamports alongside the transaction.
func BuildTransfer(sender solana.PublicKey, recipient string, amount string, anchor Anchor) (*solana.Transaction, uint64, error) {
	to, err := ParseAddress(recipient)
	if err != nil {
		return nil, 0, err
	}

	lamports, err := SOLToLamports(amount)
	if err != nil {
		return nil, 0, err
	}

	if anchor.Blockhash == (solana.Hash{}) {
		return nil, 0, relayerr.New(relayerr.KindUpstreamUnavailable, "missing recent blockhash")
	}

	instruction := system.NewTransferInstruction(lamports, sender, to).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		anchor.Blockhash,
		solana.TransactionPayer(sender),
	)
	if err != nil {
		return nil, 0, relayerr.Wrap(relayerr.KindInvalidAddress, err, "build transfer transaction")
	}
	return tx, lamports, nil
}

// ValidateAmount converts amount the same way BuildTransfer does, so callers
// can reject bad input before any network round trip.
func ValidateAmount(amount string) (uint64, error) {
	return SOLToLamports(amount)
}

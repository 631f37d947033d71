package balance

import (
	"context"
	"log/slog"

	"github.com/brojonat/solrelay/service/auth"
	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/brojonat/solrelay/service/solana"
)

// BalanceReader is the ledger read the service depends on.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (solana.Balance, error)
}

// Service answers balance queries for authenticated subjects. It holds no
// state; every query goes to the ledger.
type Service struct {
	ledger BalanceReader
	logger *slog.Logger
}

func NewService(ledger BalanceReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger.With("component", "balance")}
}

// Query returns the balance of address. It refuses to run without a subject,
// even if the caller forgot to put the auth middleware in front of it.
func (s *Service) Query(ctx context.Context, subject auth.Subject, address string) (solana.Balance, error) {
	if subject.IsZero() {
		return solana.Balance{}, relayerr.New(relayerr.KindUnauthenticated, "balance query requires an authenticated subject")
	}

	bal, err := s.ledger.GetBalance(ctx, address)
	if err != nil {
		return solana.Balance{}, err
	}
	s.logger.DebugContext(ctx, "balance query", "subject", subject, "address", bal.Address, "lamports", bal.Lamports)
	return bal, nil
}

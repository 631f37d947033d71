package balance

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/brojonat/solrelay/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	calls int
	bal   solana.Balance
	err   error
}

func (s *stubReader) GetBalance(ctx context.Context, address string) (solana.Balance, error) {
	s.calls++
	if s.err != nil {
		return solana.Balance{}, s.err
	}
	b := s.bal
	b.Address = address
	return b, nil
}

func newTestService(r BalanceReader) *Service {
	return NewService(r, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQuery(t *testing.T) {
	const addr = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	t.Run("authenticated", func(t *testing.T) {
		reader := &stubReader{bal: solana.Balance{Lamports: 3_000_000_000, SOL: 3}}
		svc := newTestService(reader)

		bal, err := svc.Query(context.Background(), "user-1", addr)

		require.NoError(t, err)
		assert.Equal(t, addr, bal.Address)
		assert.Equal(t, uint64(3_000_000_000), bal.Lamports)
		assert.Equal(t, 1, reader.calls)
	})

	t.Run("no subject fails closed", func(t *testing.T) {
		reader := &stubReader{}
		svc := newTestService(reader)

		_, err := svc.Query(context.Background(), "", addr)

		require.Error(t, err)
		assert.Equal(t, relayerr.KindUnauthenticated, relayerr.KindOf(err))
		assert.Equal(t, 0, reader.calls)
	})

	t.Run("ledger errors pass through", func(t *testing.T) {
		reader := &stubReader{err: relayerr.New(relayerr.KindInvalidAddress, "bad")}
		svc := newTestService(reader)

		_, err := svc.Query(context.Background(), "user-1", "bad")

		assert.Equal(t, relayerr.KindInvalidAddress, relayerr.KindOf(err))
	})
}

package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/solrelay/service/relayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("order-123"))
	assert.NoError(t, ValidateKey("6f1c2c1e-7b0a-4d3c-9d5e-0a1b2c3d4e5f"))

	err := ValidateKey(strings.Repeat("a", MaxKeyLength+1))
	assert.Equal(t, relayerr.KindInvalidRequest, relayerr.KindOf(err))

	err = ValidateKey("has space")
	assert.Equal(t, relayerr.KindInvalidRequest, relayerr.KindOf(err))
}

func TestNopGuard(t *testing.T) {
	var g Guard = NopGuard{}
	ctx := context.Background()
	assert.NoError(t, g.Reserve(ctx, "s", "k"))
	assert.NoError(t, g.Reserve(ctx, "s", "k"))
	assert.NoError(t, g.Complete(ctx, "s", "k", "sig"))
	assert.NoError(t, g.Release(ctx, "s", "k"))
}

func newTestRedisGuard(t *testing.T) *RedisGuard {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping redis test (TEST_REDIS_URL not set)")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := NewRedisGuard(context.Background(), url, time.Minute, logger)
	if err != nil {
		t.Skipf("Skipping redis test: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestRedisGuard(t *testing.T) {
	g := newTestRedisGuard(t)
	ctx := context.Background()
	subject := fmt.Sprintf("test-%d", time.Now().UnixNano())

	t.Run("second reservation is a duplicate", func(t *testing.T) {
		require.NoError(t, g.Reserve(ctx, subject, "k1"))

		err := g.Reserve(ctx, subject, "k1")
		require.Error(t, err)
		assert.Equal(t, relayerr.KindDuplicateRequest, relayerr.KindOf(err))
		assert.Empty(t, relayerr.SignatureOf(err))
	})

	t.Run("completed key reports its signature", func(t *testing.T) {
		require.NoError(t, g.Reserve(ctx, subject, "k2"))
		require.NoError(t, g.Complete(ctx, subject, "k2", "5sig"))

		err := g.Reserve(ctx, subject, "k2")
		assert.Equal(t, relayerr.KindDuplicateRequest, relayerr.KindOf(err))
		assert.Equal(t, "5sig", relayerr.SignatureOf(err))
	})

	t.Run("released key can be reused", func(t *testing.T) {
		require.NoError(t, g.Reserve(ctx, subject, "k3"))
		require.NoError(t, g.Release(ctx, subject, "k3"))
		assert.NoError(t, g.Reserve(ctx, subject, "k3"))
	})

	t.Run("keys are scoped per subject", func(t *testing.T) {
		require.NoError(t, g.Reserve(ctx, subject, "shared"))
		assert.NoError(t, g.Reserve(ctx, subject+"-other", "shared"))
	})
}

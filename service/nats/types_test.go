package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/solrelay/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDBTransfer(t *testing.T) {
	kind := "confirmation_timeout"
	slot := int64(12)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := FromDBTransfer(&db.Transfer{
		Signature: "sig",
		Sender:    "alice",
		Recipient: "bob",
		Lamports:  5000,
		Status:    "unknown",
		ErrorKind: &kind,
		Slot:      &slot,
		CreatedAt: created,
	})

	assert.Equal(t, "sig", event.Signature)
	assert.Equal(t, "alice", event.Sender)
	assert.Equal(t, int64(5000), event.Lamports)
	assert.Equal(t, "confirmation_timeout", event.ErrorKind)
	assert.Equal(t, created, event.CreatedAt)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"unknown"`)
	assert.NotContains(t, string(data), "secret")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "transfers.9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", Subject("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"))
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishTransfer(ctx, &TransferEvent{Signature: "a"}))
	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishTransfer(ctx, &TransferEvent{Signature: "b"}))

	events := m.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Signature)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

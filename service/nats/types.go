package nats

import (
	"time"

	"github.com/brojonat/solrelay/service/db"
)

// TransferEvent is published to "transfers.{sender}" whenever a transfer
// record is created or its status changes.
type TransferEvent struct {
	Signature string `json:"signature"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Lamports  int64  `json:"lamports"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Slot      *int64 `json:"slot,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransfer converts a stored transfer to an event.
func FromDBTransfer(t *db.Transfer) *TransferEvent {
	event := &TransferEvent{
		Signature:   t.Signature,
		Sender:      t.Sender,
		Recipient:   t.Recipient,
		Lamports:    t.Lamports,
		Status:      t.Status,
		Slot:        t.Slot,
		CreatedAt:   t.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}
	if t.ErrorKind != nil {
		event.ErrorKind = *t.ErrorKind
	}
	return event
}

package idempotency

import (
	"context"
	"fmt"

	"github.com/brojonat/solrelay/service/relayerr"
)

// HeaderName is the request header carrying a client-chosen idempotency key.
const HeaderName = "Idempotency-Key"

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 255

// Guard rejects a second transfer submitted under the same key by the same
// subject.
type Guard interface {
	// Reserve claims key for subject. It fails with duplicate_request if the
	// key is already claimed; the error carries the signature when the first
	// request got far enough to sign.
	Reserve(ctx context.Context, subject, key string) error

	// Complete attaches the transfer signature to a reserved key.
	Complete(ctx context.Context, subject, key, signature string) error

	// Release frees a key. Only call it when nothing was signed.
	Release(ctx context.Context, subject, key string) error
}

// ValidateKey checks a client-supplied key.
func ValidateKey(key string) error {
	if len(key) > MaxKeyLength {
		return relayerr.New(relayerr.KindInvalidRequest, "%s longer than %d bytes", HeaderName, MaxKeyLength)
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return relayerr.New(relayerr.KindInvalidRequest, "%s must be printable ASCII", HeaderName)
		}
	}
	return nil
}

func storageKey(subject, key string) string {
	return fmt.Sprintf("idem:%s:%s", subject, key)
}

// NopGuard accepts every request. It is used when Redis is not configured.
type NopGuard struct{}

func (NopGuard) Reserve(ctx context.Context, subject, key string) error { return nil }

func (NopGuard) Complete(ctx context.Context, subject, key, signature string) error { return nil }

func (NopGuard) Release(ctx context.Context, subject, key string) error { return nil }

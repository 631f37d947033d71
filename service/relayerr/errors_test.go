package relayerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs_MatchesOnKind(t *testing.T) {
	err := New(KindConfirmationTimeout, "not confirmed after %s", "30s")

	assert.True(t, errors.Is(err, ErrConfirmationTimeout))
	assert.False(t, errors.Is(err, ErrSubmissionRejected))

	wrapped := fmt.Errorf("transfer failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrConfirmationTimeout))
	assert.Equal(t, KindConfirmationTimeout, KindOf(wrapped))
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstreamUnavailable, cause, "get balance")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "get balance: connection refused", err.Error())
}

func TestWithSignature_DoesNotMutateOriginal(t *testing.T) {
	base := New(KindConfirmationTimeout, "timeout")
	withSig := base.WithSignature("5sig")

	assert.Empty(t, base.Signature)
	assert.Equal(t, "5sig", SignatureOf(fmt.Errorf("outer: %w", withSig)))
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindTokenExpired, http.StatusUnauthorized},
		{KindTokenInvalid, http.StatusUnauthorized},
		{KindMissingFields, http.StatusBadRequest},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindInvalidAmount, http.StatusBadRequest},
		{KindInvalidKeyMaterial, http.StatusBadRequest},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindDuplicateRequest, http.StatusConflict},
		{KindUpstreamUnavailable, http.StatusInternalServerError},
		{KindSubmissionRejected, http.StatusInternalServerError},
		{KindConfirmationTimeout, http.StatusInternalServerError},
		{Kind(""), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(KindUpstreamUnavailable))
	assert.False(t, Retryable(KindSubmissionRejected))
	assert.False(t, Retryable(KindConfirmationTimeout))
}

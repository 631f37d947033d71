package relayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure at a component boundary. Kinds are stable strings
// and are surfaced to API callers in the "kind" field of error responses.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindTokenInvalid        Kind = "token_invalid"
	KindTokenExpired        Kind = "token_expired"
	KindInvalidAddress      Kind = "invalid_address"
	KindInvalidAmount       Kind = "invalid_amount"
	KindInvalidKeyMaterial  Kind = "invalid_key_material"
	KindMissingFields       Kind = "missing_fields"
	KindInvalidRequest      Kind = "invalid_request"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindSubmissionRejected  Kind = "submission_rejected"
	KindConfirmationTimeout Kind = "confirmation_timeout"
	KindRateLimited         Kind = "rate_limited"
	KindDuplicateRequest    Kind = "duplicate_request"
)

// Sentinels for errors.Is checks. Any *Error with the same Kind matches.
var (
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrTokenInvalid        = &Error{Kind: KindTokenInvalid}
	ErrTokenExpired        = &Error{Kind: KindTokenExpired}
	ErrInvalidAddress      = &Error{Kind: KindInvalidAddress}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrInvalidKeyMaterial  = &Error{Kind: KindInvalidKeyMaterial}
	ErrMissingFields       = &Error{Kind: KindMissingFields}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrSubmissionRejected  = &Error{Kind: KindSubmissionRejected}
	ErrConfirmationTimeout = &Error{Kind: KindConfirmationTimeout}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrDuplicateRequest    = &Error{Kind: KindDuplicateRequest}
)

// Error is the structured failure returned by every relay component.
type Error struct {
	Kind    Kind
	Message string

	// Signature is set when a signed transaction exists for the failed call.
	// Its ledger state is unknown and must be checked, not resubmitted.
	Signature string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error that wraps err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithSignature returns a copy of e that carries the transaction signature.
func (e *Error) WithSignature(sig string) *Error {
	cp := *e
	cp.Signature = sig
	return &cp
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SignatureOf returns the signature carried by err, if any.
func SignatureOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Signature
	}
	return ""
}

// Retryable reports whether a failure of this kind may be retried. Only
// read paths (balance, recent blockhash) may act on this; a submitted
// transfer is never retried.
func Retryable(kind Kind) bool {
	return kind == KindUpstreamUnavailable
}

// HTTPStatus maps a Kind to the status code used by the HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated, KindTokenInvalid, KindTokenExpired:
		return http.StatusUnauthorized
	case KindInvalidAddress, KindInvalidAmount, KindInvalidKeyMaterial, KindMissingFields, KindInvalidRequest:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDuplicateRequest:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

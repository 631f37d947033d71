package transfer

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/mr-tron/base58"
)

// Request is the wire form of a transfer. Field names match the public API.
type Request struct {
	SenderAddress    string    `json:"senderAddress"`
	SenderSecretKey  SecretKey `json:"senderPrivateKey"`
	RecipientAddress string    `json:"recipientAddress"`
	Amount           Amount    `json:"amount"`
}

// MissingFields names the absent request fields using their wire names.
func (r *Request) MissingFields() []string {
	var missing []string
	if r.SenderAddress == "" {
		missing = append(missing, "senderAddress")
	}
	if !r.SenderSecretKey.Present() {
		missing = append(missing, "senderPrivateKey")
	}
	if r.RecipientAddress == "" {
		missing = append(missing, "recipientAddress")
	}
	if r.Amount == "" {
		missing = append(missing, "amount")
	}
	return missing
}

// Zero clears the secret key held by the request.
func (r *Request) Zero() {
	r.SenderSecretKey.Zero()
}

// Amount is a decimal SOL amount. It accepts a JSON string or number and keeps
// the literal text so no float rounding happens before conversion.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
	default:
		// Numbers and anything else are kept verbatim and rejected, if need
		// be, by amount validation.
		*a = Amount(data)
	}
	return nil
}

// SecretKey holds caller-supplied key material as a byte slice that can be
// zeroed. It decodes either a base58 string (wallet export format) or a JSON
// array of byte values (solana-keygen file format).
//
// Decoding never fails the surrounding JSON document: malformed key material
// is remembered and reported by Bytes, so missing-field checks still run first.
type SecretKey struct {
	data    []byte
	present bool
	err     error
}

// NewSecretKey wraps raw key bytes. The SecretKey takes ownership of b.
func NewSecretKey(b []byte) SecretKey {
	return SecretKey{data: b, present: len(b) > 0}
}

// UnmarshalJSON replaces any previously decoded value, wiping its bytes first,
// so a body that repeats the field leaves no stale key material behind.
func (k *SecretKey) UnmarshalJSON(data []byte) error {
	clear(k.data)
	*k = SecretKey{}

	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte(`""`)):
		return nil
	case data[0] == '"':
		k.present = true
		inner := data[1 : len(data)-1]
		if bytes.IndexByte(inner, '\\') >= 0 {
			k.err = errMalformedKey
			return nil
		}
		decoded, err := base58.Decode(string(inner))
		if err != nil {
			k.err = errMalformedKey
			return nil
		}
		k.data = decoded
	case data[0] == '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			k.present = true
			k.err = errMalformedKey
			return nil
		}
		defer clear(values)
		if len(values) == 0 {
			return nil
		}
		k.present = true
		buf := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				clear(buf)
				k.err = errMalformedKey
				return nil
			}
			buf[i] = byte(v)
		}
		k.data = buf
	default:
		k.present = true
		k.err = errMalformedKey
	}
	return nil
}

// MarshalJSON never emits key material.
func (k SecretKey) MarshalJSON() ([]byte, error) {
	return []byte(`"[redacted]"`), nil
}

// LogValue keeps key material out of structured logs.
func (k SecretKey) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

func (k SecretKey) String() string {
	return "[redacted]"
}

// Present reports whether the field was supplied at all.
func (k *SecretKey) Present() bool {
	return k.present
}

// Bytes returns the decoded key bytes, or an invalid_key_material error if the
// supplied value could not be decoded.
func (k *SecretKey) Bytes() ([]byte, error) {
	if k.err != nil {
		return nil, k.err
	}
	return k.data, nil
}

// Zero overwrites the key bytes in place.
func (k *SecretKey) Zero() {
	clear(k.data)
}

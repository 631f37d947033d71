package transfer

import (
	"bytes"
	"crypto/ed25519"

	"github.com/brojonat/solrelay/service/relayerr"
	solanago "github.com/gagliardetto/solana-go"
)

var errMalformedKey = relayerr.New(relayerr.KindInvalidKeyMaterial, "secret key is not valid base58 or a byte array")

// Identity is a signing key reconstructed for a single transfer.
type Identity struct {
	key solanago.PrivateKey
}

// ParseIdentity reconstructs a signing identity from a 64-byte ed25519 secret
// key (32-byte seed followed by the public key). The input is copied; callers
// still own and must zero secret.
func ParseIdentity(secret []byte) (*Identity, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, relayerr.New(relayerr.KindInvalidKeyMaterial, "secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}

	derived := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	defer clear(derived)
	if !bytes.Equal(derived[ed25519.SeedSize:], secret[ed25519.SeedSize:]) {
		return nil, relayerr.New(relayerr.KindInvalidKeyMaterial, "secret key public half does not match its seed")
	}

	key := make(solanago.PrivateKey, ed25519.PrivateKeySize)
	copy(key, secret)
	return &Identity{key: key}, nil
}

// PublicKey returns the address controlled by this identity.
func (id *Identity) PublicKey() solanago.PublicKey {
	return id.key.PublicKey()
}

// Sign adds this identity's signature to tx.
func (id *Identity) Sign(tx *solanago.Transaction) error {
	pub := id.PublicKey()
	_, err := tx.Sign(func(pk solanago.PublicKey) *solanago.PrivateKey {
		if pk.Equals(pub) {
			return &id.key
		}
		return nil
	})
	return err
}

// Zero overwrites the key.
func (id *Identity) Zero() {
	clear(id.key)
}

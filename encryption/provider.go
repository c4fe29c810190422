package encryption

import (
	"fmt"
	"strings"
)

const (
	SchemeEd25519   = "ed25519"
	SchemeSecp256k1 = "secp256k1"
)

// KeyPair holds raw key material as produced by a Provider.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// Provider is the cryptographic capability consumed by the ledger. Sign and
// GenerateKeyPair may fail when the implementation is backed by an external
// signer; callers treat such failures as retryable.
type Provider interface {
	Name() string
	GenerateKeyPair() (KeyPair, error)
	Sign(privateKey, message []byte) ([]byte, error)
	Verify(publicKey, signature, message []byte) bool
	Hash(data []byte) []byte
}

// NewProvider returns the provider registered for scheme.
func NewProvider(scheme string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case SchemeEd25519, "":
		return NewEd25519Provider(), nil
	case SchemeSecp256k1:
		return NewSecp256k1Provider(), nil
	default:
		return nil, fmt.Errorf("unknown signature scheme: %s", scheme)
	}
}

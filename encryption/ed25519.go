package encryption

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
)

// Ed25519Provider signs with Ed25519 and hashes with SHA-256.
type Ed25519Provider struct{}

func NewEd25519Provider() *Ed25519Provider {
	return &Ed25519Provider{}
}

func (p *Ed25519Provider) Name() string { return SchemeEd25519 }

func (p *Ed25519Provider) GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

func (p *Ed25519Provider) Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key length")
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), message), nil
}

func (p *Ed25519Provider) Verify(publicKey, signature, message []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

func (p *Ed25519Provider) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

package encryption

import (
	"bytes"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Secp256k1Provider signs with recoverable secp256k1 signatures over a
// Keccak-256 digest of the message.
type Secp256k1Provider struct{}

func NewSecp256k1Provider() *Secp256k1Provider {
	return &Secp256k1Provider{}
}

func (p *Secp256k1Provider) Name() string { return SchemeSecp256k1 }

// GenerateKeyPair generates a new ECDSA key pair
func (p *Secp256k1Provider) GenerateKeyPair() (KeyPair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		PublicKey:  crypto.FromECDSAPub(&key.PublicKey),
		PrivateKey: crypto.FromECDSA(key),
	}, nil
}

// Sign creates a digital signature of data using private key
func (p *Secp256k1Provider) Sign(privateKey, message []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(p.Keccak256(message), key)
}

// Verify recovers the signer and compares it with publicKey. The recovery id
// must be 0 or 1 and s must be in the lower half of the curve order, so every
// valid signature has exactly one encoding.
func (p *Secp256k1Provider) Verify(publicKey, signature, message []byte) bool {
	if len(signature) != crypto.SignatureLength || signature[crypto.RecoveryIDOffset] > 1 {
		return false
	}
	hash := p.Keccak256(message)
	if !crypto.VerifySignature(publicKey, hash, signature[:crypto.RecoveryIDOffset]) {
		return false
	}
	recovered, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return false
	}
	return bytes.Equal(crypto.FromECDSAPub(recovered), publicKey)
}

func (p *Secp256k1Provider) Hash(data []byte) []byte {
	return p.Keccak256(data)
}

// Keccak256 computes Keccak-256 hash
func (p *Secp256k1Provider) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

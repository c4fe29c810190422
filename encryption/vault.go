package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
)

const vaultKDF = "argon2id"

var ErrVaultOpen = errors.New("vault: unable to open sealed secret")

// SealedSecret is an encrypted secret safe to hand to untrusted storage.
type SealedSecret struct {
	KDF        string `json:"kdf"`
	Time       uint32 `json:"time"`
	Memory     uint32 `json:"memory"`
	Threads    uint8  `json:"threads"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Vault encrypts secrets under a passphrase derived key.
type Vault struct {
	time    uint32
	memory  uint32
	threads uint8
}

type VaultOption func(*Vault)

// WithArgon2Params overrides the key derivation cost.
func WithArgon2Params(time, memoryKiB uint32, threads uint8) VaultOption {
	return func(v *Vault) {
		v.time = time
		v.memory = memoryKiB
		v.threads = threads
	}
}

func NewVault(opts ...VaultOption) *Vault {
	v := &Vault{time: 1, memory: 64 * 1024, threads: 4}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vault) Seal(secret []byte, passphrase string) (*SealedSecret, error) {
	if passphrase == "" {
		return nil, errors.New("vault: passphrase is required")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	gcm, err := newGCM(argon2.IDKey([]byte(passphrase), salt, v.time, v.memory, v.threads, 32))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &SealedSecret{
		KDF:        vaultKDF,
		Time:       v.time,
		Memory:     v.memory,
		Threads:    v.threads,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, secret, nil),
	}, nil
}

// Open decrypts a sealed secret. A wrong passphrase yields ErrVaultOpen.
func (v *Vault) Open(sealed *SealedSecret, passphrase string) ([]byte, error) {
	if sealed == nil || sealed.KDF != vaultKDF || len(sealed.Salt) == 0 {
		return nil, ErrVaultOpen
	}
	gcm, err := newGCM(argon2.IDKey([]byte(passphrase), sealed.Salt, sealed.Time, sealed.Memory, sealed.Threads, 32))
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != gcm.NonceSize() {
		return nil, ErrVaultOpen
	}
	plain, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, ErrVaultOpen
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

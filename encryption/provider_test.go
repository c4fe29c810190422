package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers() []Provider {
	return []Provider{NewEd25519Provider(), NewSecp256k1Provider()}
}

func TestSignatureRoundTrip(t *testing.T) {
	message := []byte("identity-ledger canonical message")
	for _, p := range providers() {
		t.Run(p.Name(), func(t *testing.T) {
			kp, err := p.GenerateKeyPair()
			require.NoError(t, err)

			sig, err := p.Sign(kp.PrivateKey, message)
			require.NoError(t, err)
			assert.True(t, p.Verify(kp.PublicKey, sig, message))

			other, err := p.GenerateKeyPair()
			require.NoError(t, err)
			assert.False(t, p.Verify(other.PublicKey, sig, message), "signature verified with a foreign key")
		})
	}
}

func TestSingleBitMutationFailsVerification(t *testing.T) {
	message := []byte("sender|recipient|5|token|1700000000000")
	for _, p := range providers() {
		t.Run(p.Name(), func(t *testing.T) {
			kp, err := p.GenerateKeyPair()
			require.NoError(t, err)
			sig, err := p.Sign(kp.PrivateKey, message)
			require.NoError(t, err)

			for i := 0; i < len(message)*8; i++ {
				mutated := append([]byte(nil), message...)
				mutated[i/8] ^= 1 << (i % 8)
				if p.Verify(kp.PublicKey, sig, mutated) {
					t.Fatalf("message bit %d mutation still verified", i)
				}
			}
			for i := 0; i < len(sig)*8; i++ {
				mutated := append([]byte(nil), sig...)
				mutated[i/8] ^= 1 << (i % 8)
				if p.Verify(kp.PublicKey, mutated, message) {
					t.Fatalf("signature bit %d mutation still verified", i)
				}
			}
		})
	}
}

func TestHashIsDeterministic(t *testing.T) {
	for _, p := range providers() {
		a := p.Hash([]byte("block"))
		b := p.Hash([]byte("block"))
		assert.Equal(t, a, b)
		assert.Len(t, a, 32)
		assert.NotEqual(t, a, p.Hash([]byte("block!")))
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("secp256k1")
	require.NoError(t, err)
	assert.Equal(t, SchemeSecp256k1, p.Name())

	p, err = NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, SchemeEd25519, p.Name())

	_, err = NewProvider("rsa")
	assert.Error(t, err)
}

func TestSignRejectsMalformedKey(t *testing.T) {
	for _, p := range providers() {
		_, err := p.Sign([]byte{1, 2, 3}, []byte("m"))
		assert.Error(t, err, p.Name())
	}
}

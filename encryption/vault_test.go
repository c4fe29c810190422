package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultSealOpen(t *testing.T) {
	v := NewVault(WithArgon2Params(1, 8*1024, 1))
	secret := []byte("private key material")

	sealed, err := v.Seal(secret, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.Ciphertext), "private key")

	plain, err := v.Open(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secret, plain)

	_, err = v.Open(sealed, "wrong horse")
	assert.ErrorIs(t, err, ErrVaultOpen)
}

func TestVaultRequiresPassphrase(t *testing.T) {
	_, err := NewVault().Seal([]byte("x"), "")
	assert.Error(t, err)
}

func TestVaultSaltsDiffer(t *testing.T) {
	v := NewVault(WithArgon2Params(1, 8*1024, 1))
	a, err := v.Seal([]byte("same"), "pass")
	require.NoError(t, err)
	b, err := v.Seal([]byte("same"), "pass")
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

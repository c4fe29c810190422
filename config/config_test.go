package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Storage.Driver)
	assert.Equal(t, "ed25519", cfg.Ledger.SignatureScheme)
	assert.Equal(t, 60*time.Second, cfg.Ledger.RateLimitWindow)
	assert.Equal(t, 3, cfg.Ledger.RateLimitThreshold)
	assert.Equal(t, []string{"kyc", "photo"}, cfg.Verification.RequiredSteps)
	assert.Equal(t, 7*24*time.Hour, cfg.Verification.BadgeTTL)
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SIGNATURE_SCHEME", "secp256k1")
	t.Setenv("RATE_LIMIT_THRESHOLD", "5")
	t.Setenv("REQUIRED_VERIFICATIONS", "kyc,photo,phone")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "secp256k1", cfg.Ledger.SignatureScheme)
	assert.Equal(t, 5, cfg.Ledger.RateLimitThreshold)
	assert.Equal(t, []string{"kyc", "photo", "phone"}, cfg.Verification.RequiredSteps)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":  {"STORAGE_DRIVER": "postgres"},
		"scheme":  {"SIGNATURE_SCHEME": "rsa"},
		"step":    {"REQUIRED_VERIFICATIONS": "kyc,retina"},
		"limiter": {"RATE_LIMIT_THRESHOLD": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

package badge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-ledger/apperrors"
	"identity-ledger/models"
)

type stubVerifier map[string]bool

func (s stubVerifier) IsFullyVerified(pub string) bool { return s[pub] }

type stubRecorder struct {
	calls int
	err   error
}

func (r *stubRecorder) RecordMint(owner string) (*models.Receipt, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.calls++
	return &models.Receipt{Transaction: models.Transaction{Sender: owner, TxHash: "abc123"}}, nil
}

func TestMintRequiresVerification(t *testing.T) {
	verified := stubVerifier{}
	rec := &stubRecorder{}
	now := time.Date(2024, 1, 10, 8, 30, 0, 0, time.UTC)
	issuer := NewIssuer(verified, rec, WithClock(func() time.Time { return now }))

	_, err := issuer.Mint("alice", "Verified Citizen", "")
	require.True(t, apperrors.IsNotVerified(err))
	assert.Equal(t, 0, rec.calls)
	assert.Empty(t, issuer.ListForOwner("alice"))

	verified["alice"] = true
	b, err := issuer.Mint("alice", "Verified Citizen", "KYC and photo")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, b.ExpiresAt.Sub(b.CreatedAt))
	assert.Equal(t, models.Hash("abc123"), b.ProvenanceTx)
	assert.Equal(t, "badge://"+b.ID, b.ImageRef)
	assert.Equal(t, 1, rec.calls)
}

func TestBadgeExpiryBoundary(t *testing.T) {
	minted := time.Date(2024, 1, 10, 8, 30, 0, 0, time.UTC)
	issuer := NewIssuer(stubVerifier{"bob": true}, &stubRecorder{}, WithClock(func() time.Time { return minted }))

	_, err := issuer.Mint("bob", "Early Adopter", "")
	require.NoError(t, err)

	expiry := minted.Add(DefaultTTL)
	assert.Equal(t, models.BadgeActive, issuer.ListForOwnerAt("bob", minted)[0].Status)
	assert.Equal(t, models.BadgeActive, issuer.ListForOwnerAt("bob", expiry.Add(-time.Nanosecond))[0].Status)
	assert.Equal(t, models.BadgeExpired, issuer.ListForOwnerAt("bob", expiry)[0].Status)
	assert.Equal(t, models.BadgeExpired, issuer.ListForOwnerAt("bob", expiry.Add(time.Hour))[0].Status)
}

func TestMintValidatesName(t *testing.T) {
	issuer := NewIssuer(stubVerifier{"bob": true}, &stubRecorder{})
	_, err := issuer.Mint("bob", "   ", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestMintRecorderFailureStoresNothing(t *testing.T) {
	rec := &stubRecorder{err: apperrors.NewProviderError("sign", errors.New("timeout"))}
	issuer := NewIssuer(stubVerifier{"bob": true}, rec)

	_, err := issuer.Mint("bob", "Badge", "")
	assert.True(t, apperrors.IsProvider(err))
	assert.Equal(t, 0, issuer.Count())
}

func TestListForOwnerNewestFirst(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := NewIssuer(stubVerifier{"bob": true}, &stubRecorder{},
		WithClock(func() time.Time { return now }),
		WithTTL(time.Hour),
	)

	_, err := issuer.Mint("bob", "First", "")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	_, err = issuer.Mint("bob", "Second", "")
	require.NoError(t, err)

	views := issuer.ListForOwner("bob")
	require.Len(t, views, 2)
	assert.Equal(t, "Second", views[0].Name)
	assert.Equal(t, models.BadgeActive, views[0].Status)
	assert.Equal(t, models.BadgeExpired, views[1].Status)
	assert.Empty(t, issuer.ListForOwner("carol"))
}

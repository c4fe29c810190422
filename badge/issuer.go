// Package badge issues time limited verification badges backed by a ledger
// provenance transaction.
package badge

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"identity-ledger/apperrors"
	"identity-ledger/models"
)

const DefaultTTL = 7 * 24 * time.Hour

type Verifier interface {
	IsFullyVerified(publicKey string) bool
}

// Recorder writes the provenance transaction for a mint.
type Recorder interface {
	RecordMint(owner string) (*models.Receipt, error)
}

type View struct {
	models.Badge
	Status models.BadgeStatus `json:"status"`
}

type Option func(*Issuer)

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

type Issuer struct {
	verifier Verifier
	recorder Recorder
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	byOwner map[string][]models.Badge
}

func NewIssuer(verifier Verifier, recorder Recorder, opts ...Option) *Issuer {
	i := &Issuer{
		verifier: verifier,
		recorder: recorder,
		ttl:      DefaultTTL,
		now:      time.Now,
		byOwner:  make(map[string][]models.Badge),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Mint creates a badge for a fully verified owner. Nothing is stored when the
// provenance transaction cannot be recorded.
func (i *Issuer) Mint(owner, name, description string) (models.Badge, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Badge{}, apperrors.NewValidationError("name", "is required")
	}
	if !i.verifier.IsFullyVerified(owner) {
		return models.Badge{}, apperrors.NewNotVerifiedError(owner, "verification incomplete")
	}

	receipt, err := i.recorder.RecordMint(owner)
	if err != nil {
		return models.Badge{}, err
	}

	id := uuid.NewString()
	created := i.now()
	b := models.Badge{
		ID:             id,
		OwnerPublicKey: owner,
		Name:           name,
		Description:    strings.TrimSpace(description),
		CreatedAt:      created,
		ExpiresAt:      created.Add(i.ttl),
		ImageRef:       "badge://" + id,
		ProvenanceTx:   receipt.Transaction.TxHash,
	}

	i.mu.Lock()
	i.byOwner[owner] = append(i.byOwner[owner], b)
	i.mu.Unlock()

	log.Info().Str("owner", owner).Str("badge", id).Time("expires_at", b.ExpiresAt).Msg("Badge minted")
	return b, nil
}

// ListForOwner returns the owner's badges, newest first, with status computed
// at call time.
func (i *Issuer) ListForOwner(owner string) []View {
	return i.ListForOwnerAt(owner, i.now())
}

func (i *Issuer) ListForOwnerAt(owner string, at time.Time) []View {
	i.mu.RLock()
	badges := append([]models.Badge(nil), i.byOwner[owner]...)
	i.mu.RUnlock()

	views := make([]View, 0, len(badges))
	for _, b := range badges {
		views = append(views, View{Badge: b, Status: b.StatusAt(at)})
	}
	sort.SliceStable(views, func(a, b int) bool {
		return views[a].CreatedAt.After(views[b].CreatedAt)
	})
	return views
}

// Count returns the number of badges minted so far.
func (i *Issuer) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n := 0
	for _, bs := range i.byOwner {
		n += len(bs)
	}
	return n
}

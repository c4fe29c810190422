package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"identity-ledger/apperrors"
	"identity-ledger/badge"
	"identity-ledger/encryption"
	"identity-ledger/ledger"
	"identity-ledger/models"
	"identity-ledger/otp"
	"identity-ledger/ratelimit"
	"identity-ledger/registry"
	"identity-ledger/storage"
)

type Dependencies struct {
	Provider encryption.Provider
	Limiter  *ratelimit.Limiter
	Registry *registry.Registry
	Store    storage.ChainStore
	OTP      *otp.Service

	// Optional.
	Snapshots *storage.SnapshotStore
	Vault     *encryption.Vault
	BadgeTTL  time.Duration

	// PhoneSessionTTL should match the OTP ttl.
	PhoneSessionTTL time.Duration
	Clock           func() time.Time
}

// IdentityService is the application facade over the ledger, the verification
// registry and the badge issuer. Every sealed block is written to the chain
// store before the call that sealed it returns.
type IdentityService struct {
	core      *ledger.Core
	registry  *registry.Registry
	issuer    *badge.Issuer
	otp       *otp.Service
	store     storage.ChainStore
	snapshots *storage.SnapshotStore
	metrics   *MetricsCollector
	now       func() time.Time
	phoneTTL  time.Duration

	mu       sync.Mutex
	sessions map[string]*PhoneSession
}

func NewIdentityService(deps Dependencies) (*IdentityService, error) {
	if deps.Provider == nil || deps.Registry == nil || deps.Store == nil || deps.OTP == nil {
		return nil, fmt.Errorf("identity service: provider, registry, store and otp are required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	s := &IdentityService{
		registry:  deps.Registry,
		otp:       deps.OTP,
		store:     deps.Store,
		snapshots: deps.Snapshots,
		metrics:   NewMetricsCollector(),
		now:       now,
		phoneTTL:  deps.PhoneSessionTTL,
		sessions:  make(map[string]*PhoneSession),
	}
	if s.phoneTTL <= 0 {
		s.phoneTTL = otp.DefaultTTL
	}

	opts := []ledger.Option{ledger.WithClock(now), ledger.WithSealHook(s.persistBlock)}
	if deps.Vault != nil {
		opts = append(opts, ledger.WithVault(deps.Vault))
	}
	s.core = ledger.New(deps.Provider, deps.Limiter, opts...)
	s.issuer = badge.NewIssuer(deps.Registry, s.core, badge.WithTTL(deps.BadgeTTL), badge.WithClock(now))

	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// restore loads the persisted chain, or persists the fresh genesis block when
// the store is empty.
func (s *IdentityService) restore() error {
	blocks, err := s.store.LoadChain()
	if err != nil {
		return fmt.Errorf("failed to load chain: %w", err)
	}
	if len(blocks) == 0 {
		if err := s.store.SaveChain(s.core.ExportChain()); err != nil {
			return fmt.Errorf("failed to persist genesis block: %w", err)
		}
		log.Info().Msg("Initialized new ledger")
		return nil
	}
	if err := s.core.ImportChain(blocks); err != nil {
		return fmt.Errorf("persisted chain rejected: %w", err)
	}
	log.Info().Int("blocks", len(blocks)).Msg("Restored ledger from storage")
	return nil
}

func (s *IdentityService) persistBlock(block models.Block, _ int) {
	err := s.store.SaveBlock(block)
	s.metrics.RecordPersist(err)
	if err != nil {
		log.Error().Err(err).Uint64("block", block.Index).Msg("Failed to persist block")
	}
}

func (s *IdentityService) RegisterIdentity(req models.RegistrationRequest) (*models.Receipt, error) {
	start := s.metrics.RecordStart(OpRegistration)
	receipt, err := s.core.RegisterIdentity(req)
	s.metrics.RecordEnd(OpRegistration, start, err)
	return receipt, err
}

func (s *IdentityService) SubmitTransaction(sender, recipient string, amount decimal.Decimal) (*models.Receipt, error) {
	start := s.metrics.RecordStart(OpTransaction)
	receipt, err := s.core.SubmitTransaction(sender, recipient, amount)
	s.metrics.RecordEnd(OpTransaction, start, err)
	if apperrors.IsRateLimit(err) {
		s.metrics.RecordRateLimited()
	}
	return receipt, err
}

func (s *IdentityService) requireWallet(pub string) error {
	if strings.TrimSpace(pub) == "" {
		return apperrors.NewValidationError("public_key", "is required")
	}
	if !s.core.HasWallet(pub) {
		return apperrors.NewNotFoundError("wallet", pub)
	}
	return nil
}

func (s *IdentityService) SubmitKYC(pub string, fields models.KYCFields) (models.IdentityVerification, error) {
	if err := s.requireWallet(pub); err != nil {
		return models.IdentityVerification{}, err
	}
	return s.registry.VerifyKYC(pub, fields)
}

func (s *IdentityService) SavePhoto(pub, photoRef string) (models.IdentityVerification, error) {
	if err := s.requireWallet(pub); err != nil {
		return models.IdentityVerification{}, err
	}
	return s.registry.SavePhotoVerification(pub, photoRef)
}

// StartPhoneVerification sends a code to phone and remembers which identity
// asked for it.
func (s *IdentityService) StartPhoneVerification(ctx context.Context, pub, phone string) (otp.DeliveryReceipt, error) {
	if err := s.requireWallet(pub); err != nil {
		return otp.DeliveryReceipt{}, err
	}
	normalized, err := otp.NormalizePhone(phone)
	if err != nil {
		return otp.DeliveryReceipt{}, err
	}

	receipt, err := s.otp.Send(ctx, normalized)
	if err != nil {
		return otp.DeliveryReceipt{}, err
	}

	s.mu.Lock()
	if prev, ok := s.sessions[pub]; ok {
		prev.End()
	}
	s.sessions[pub] = NewPhoneSession(pub, normalized, s.now(), s.phoneTTL)
	s.mu.Unlock()
	return receipt, nil
}

// ConfirmPhone checks code and, on success, completes the phone step.
func (s *IdentityService) ConfirmPhone(ctx context.Context, pub, code string) (models.IdentityVerification, error) {
	s.mu.Lock()
	session, ok := s.sessions[pub]
	s.mu.Unlock()
	if !ok || !session.IsActive(s.now()) {
		return models.IdentityVerification{}, apperrors.NewNotFoundError("phone verification", pub)
	}

	matched, err := s.otp.Verify(ctx, session.Phone(), code)
	if err != nil {
		return models.IdentityVerification{}, err
	}
	if !matched {
		return models.IdentityVerification{}, apperrors.NewValidationError("code", "does not match")
	}

	session.End()
	s.mu.Lock()
	delete(s.sessions, pub)
	s.mu.Unlock()

	return s.registry.VerifyPhone(pub, session.Phone())
}

// VerificationStatus returns the stored record and whether the completion
// rule holds.
func (s *IdentityService) VerificationStatus(pub string) (models.IdentityVerification, bool, error) {
	rec, err := s.registry.Get(pub)
	if err != nil {
		return models.IdentityVerification{}, false, err
	}
	return rec, s.registry.IsFullyVerified(pub), nil
}

// RotateIdentityToken issues a new identity token once the caller proves
// knowledge of the KYC details on file.
func (s *IdentityService) RotateIdentityToken(pub string, fields models.KYCFields) (*models.Receipt, error) {
	if err := s.requireWallet(pub); err != nil {
		return nil, err
	}
	if !s.registry.MatchesKYC(pub, fields) {
		return nil, apperrors.NewNotVerifiedError(pub, "identity details do not match")
	}
	return s.core.RegenerateIdentityToken(pub)
}

func (s *IdentityService) MintBadge(owner, name, description string) (models.Badge, error) {
	start := s.metrics.RecordStart(OpMint)
	b, err := s.issuer.Mint(owner, name, description)
	s.metrics.RecordEnd(OpMint, start, err)
	return b, err
}

func (s *IdentityService) Badges(owner string) []badge.View {
	return s.issuer.ListForOwner(owner)
}

func (s *IdentityService) History(pub string) []models.Transaction {
	return s.core.History(pub)
}

func (s *IdentityService) ChainInfo() ledger.ChainInfo {
	return s.core.ChainInfo()
}

func (s *IdentityService) ExportChain() []models.Block {
	return s.core.ExportChain()
}

type BlockDetails struct {
	Block          models.Block `json:"block"`
	CalculatedHash models.Hash  `json:"calculated_hash"`
	HashMatch      bool         `json:"hash_match"`
}

// BlockDetails finds a block by hash and recomputes its hash.
func (s *IdentityService) BlockDetails(hash string) (BlockDetails, error) {
	for _, b := range s.core.ExportChain() {
		if string(b.Hash) == hash {
			calculated := b.CalculateHash(s.core.Provider())
			return BlockDetails{Block: b, CalculatedHash: calculated, HashMatch: calculated == b.Hash}, nil
		}
	}
	return BlockDetails{}, apperrors.NewNotFoundError("block", hash)
}

func (s *IdentityService) ValidateChain() error {
	return s.core.ValidateChain()
}

// ImportChain extends the ledger with blocks and rewrites the persisted copy.
// The store is written before the ledger switches over, so a failed write
// leaves both on the previous chain.
func (s *IdentityService) ImportChain(blocks []models.Block) error {
	return s.core.ImportChainFunc(blocks, func(imported []models.Block) error {
		if err := s.store.SaveChain(imported); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to persist imported chain")
		}
		return nil
	})
}

// Snapshot writes the current chain to the snapshot directory.
func (s *IdentityService) Snapshot() (string, error) {
	if s.snapshots == nil {
		return "", apperrors.New(apperrors.ErrCodeNotFound, "snapshots are not configured")
	}
	path, err := s.snapshots.Write(s.core.ExportChain())
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to write snapshot")
	}
	return path, nil
}

// ExportWallet seals the wallet for pub. The caller proves ownership with the
// active identity token and the KYC details on file.
func (s *IdentityService) ExportWallet(pub, token, passphrase string, fields models.KYCFields) (*encryption.SealedSecret, error) {
	if err := s.requireWallet(pub); err != nil {
		return nil, err
	}
	if !s.registry.MatchesKYC(pub, fields) {
		return nil, apperrors.NewNotVerifiedError(pub, "identity details do not match")
	}
	return s.core.ExportWallet(pub, token, passphrase)
}

func (s *IdentityService) ImportWallet(sealed *encryption.SealedSecret, passphrase string) (models.Wallet, error) {
	return s.core.ImportWallet(sealed, passphrase)
}

func (s *IdentityService) Metrics() MetricsResponse {
	return s.metrics.GetMetrics()
}

func (s *IdentityService) Close() error {
	return s.store.Close()
}

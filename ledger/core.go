// Package ledger holds the append-only, hash-chained transaction log together
// with the custodial wallets that sign into it.
package ledger

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"identity-ledger/apperrors"
	"identity-ledger/encryption"
	"identity-ledger/models"
	"identity-ledger/ratelimit"
)

// ChainInfo is a read-only snapshot of the ledger.
type ChainInfo struct {
	BlockCount        int          `json:"block_count"`
	LatestBlock       models.Block `json:"latest_block"`
	PendingCount      int          `json:"pending_count"`
	RegisteredWallets int          `json:"registered_wallets"`
}

// SealHook is called with a copy of every newly sealed block while the
// ledger lock is held, so hooks observe blocks in chain order.
type SealHook func(block models.Block, chainLength int)

type Option func(*Core)

func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		c.now = now
	}
}

func WithVault(v *encryption.Vault) Option {
	return func(c *Core) {
		c.vault = v
	}
}

func WithSealHook(h SealHook) Option {
	return func(c *Core) {
		c.hooks = append(c.hooks, h)
	}
}

type Core struct {
	provider encryption.Provider
	limiter  *ratelimit.Limiter
	vault    *encryption.Vault
	validate *validator.Validate
	now      func() time.Time
	hooks    []SealHook

	mu      sync.Mutex
	chain   []models.Block
	pending []models.Transaction
	wallets map[string]*models.Wallet
}

func New(provider encryption.Provider, limiter *ratelimit.Limiter, opts ...Option) *Core {
	c := &Core{
		provider: provider,
		limiter:  limiter,
		validate: validator.New(),
		now:      time.Now,
		wallets:  make(map[string]*models.Wallet),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.vault == nil {
		c.vault = encryption.NewVault()
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultWindow, ratelimit.DefaultThreshold)
	}

	genesis := models.NewGenesisBlock(c.now().UnixMilli(), provider)
	c.chain = []models.Block{*genesis}
	c.pending = make([]models.Transaction, 0)
	return c
}

func (c *Core) Provider() encryption.Provider { return c.provider }

// RegisterIdentity creates a custodial wallet and records its registration
// transaction in a new block.
func (c *Core) RegisterIdentity(req models.RegistrationRequest) (*models.Receipt, error) {
	req.IDNumber = strings.TrimSpace(req.IDNumber)
	req.Selfie = strings.TrimSpace(req.Selfie)
	if err := c.validate.Struct(req); err != nil {
		return nil, apperrors.FromValidator(err)
	}

	kp, err := c.provider.GenerateKeyPair()
	if err != nil {
		return nil, apperrors.NewProviderError("generate key pair", err)
	}
	pub := hex.EncodeToString(kp.PublicKey)
	now := c.now()

	wallet := &models.Wallet{
		PublicKey:     pub,
		PrivateKey:    kp.PrivateKey,
		IdentityToken: c.newIdentityToken(pub, now),
		TokenIssuedAt: now,
		CreatedAt:     now,
	}

	tx, err := c.signedTransaction(wallet, models.SystemRecipient, decimal.Zero, now)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.wallets[pub] = wallet
	// registration occupies a slot in the new key's fraud window
	c.limiter.RecordAndCheck(pub)

	block := c.appendAndSeal(tx)
	log.Info().Str("public_key", pub).Uint64("block", block.Index).Msg("Identity registered")

	return c.receipt(block, wallet), nil
}

// SubmitTransaction signs and records a transfer on behalf of a registered
// sender.
func (c *Core) SubmitTransaction(sender, recipient string, amount decimal.Decimal) (*models.Receipt, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, apperrors.NewValidationError("recipient", "is required")
	}
	if amount.IsNegative() {
		return nil, apperrors.NewValidationError("amount", "must not be negative")
	}
	if amount.IsZero() && recipient != models.SystemRecipient {
		return nil, apperrors.NewValidationError("amount", "zero amount is only allowed for system transactions")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	wallet, ok := c.wallets[sender]
	if !ok {
		return nil, apperrors.NewNotVerifiedError(sender, "no registered wallet")
	}
	if wallet.IdentityToken == "" {
		return nil, apperrors.NewNotVerifiedError(sender, "no active identity token")
	}

	decision := c.limiter.RecordAndCheck(sender)
	if !decision.Allowed {
		log.Warn().
			Str("sender", sender).
			Dur("retry_after", decision.RetryAfter).
			Msg("Transaction rejected by fraud guard")
		return nil, apperrors.NewRateLimitError(sender, decision.RetryAfter)
	}

	tx, err := c.signedTransaction(wallet, recipient, amount, c.now())
	if err != nil {
		c.limiter.Release(sender, decision.At)
		return nil, err
	}

	block := c.appendAndSeal(tx)
	log.Info().
		Str("sender", sender).
		Str("recipient", recipient).
		Str("amount", amount.String()).
		Uint64("block", block.Index).
		Msg("Transaction confirmed")

	return c.receipt(block, nil), nil
}

// RecordMint writes the zero-amount provenance transaction for a badge minted
// to owner. It is not subject to the fraud guard.
func (c *Core) RecordMint(owner string) (*models.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallet, ok := c.wallets[owner]
	if !ok || wallet.IdentityToken == "" {
		return nil, apperrors.NewNotVerifiedError(owner, "no registered wallet")
	}

	tx, err := c.signedTransaction(wallet, models.SystemRecipient, decimal.Zero, c.now())
	if err != nil {
		return nil, err
	}
	block := c.appendAndSeal(tx)
	log.Debug().Str("owner", owner).Uint64("block", block.Index).Msg("Mint provenance recorded")
	return c.receipt(block, nil), nil
}

// RegenerateIdentityToken replaces the active token for pub and records the
// rotation on the chain. The previous token stops being active immediately.
func (c *Core) RegenerateIdentityToken(pub string) (*models.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallet, ok := c.wallets[pub]
	if !ok {
		return nil, apperrors.NewNotFoundError("wallet", pub)
	}

	now := c.now()
	rotated := *wallet
	rotated.IdentityToken = c.newIdentityToken(pub, now)
	rotated.TokenIssuedAt = now

	tx, err := c.signedTransaction(&rotated, models.SystemRecipient, decimal.Zero, now)
	if err != nil {
		return nil, err
	}
	c.wallets[pub] = &rotated
	block := c.appendAndSeal(tx)
	log.Info().Str("public_key", pub).Msg("Identity token rotated")

	return c.receipt(block, &rotated), nil
}

func (c *Core) ActiveToken(pub string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.wallets[pub]
	if !ok || w.IdentityToken == "" {
		return "", false
	}
	return w.IdentityToken, true
}

func (c *Core) IsTokenActive(pub, token string) bool {
	active, ok := c.ActiveToken(pub)
	return ok && token != "" && active == token
}

// HasWallet reports whether pub belongs to a registered wallet.
func (c *Core) HasWallet(pub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.wallets[pub]
	return ok
}

func (c *Core) ChainInfo() ChainInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChainInfo{
		BlockCount:        len(c.chain),
		LatestBlock:       c.chain[len(c.chain)-1].Clone(),
		PendingCount:      len(c.pending),
		RegisteredWallets: len(c.wallets),
	}
}

func (c *Core) ExportChain() []models.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneChain(c.chain)
}

// ValidateChain re-checks every hash, link and signature of the current chain.
func (c *Core) ValidateChain() error {
	blocks := c.ExportChain()
	return c.checkChain(blocks)
}

// ImportChain replaces the chain with blocks after checking hashes, links and
// signatures. Only a genesis-only ledger or a ledger whose chain is an exact
// prefix of blocks accepts an import; sealed blocks are never dropped or
// rewritten. The current chain is untouched when any check fails.
func (c *Core) ImportChain(blocks []models.Block) error {
	return c.ImportChainFunc(blocks, nil)
}

// ImportChainFunc is ImportChain with a commit step. commit runs under the
// ledger lock after every check has passed; when it fails the chain is left
// as it was.
func (c *Core) ImportChainFunc(blocks []models.Block, commit func([]models.Block) error) error {
	if len(blocks) == 0 {
		return apperrors.NewValidationError("blocks", "chain must contain at least the genesis block")
	}
	imported := cloneChain(blocks)
	if err := c.checkChain(imported); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		return apperrors.NewConflictError("ledger", "pending transactions present")
	}
	if err := extendsChain(c.chain, imported); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(cloneChain(imported)); err != nil {
			return err
		}
	}
	c.chain = imported
	log.Info().Int("blocks", len(imported)).Msg("Chain imported")
	return nil
}

// extendsChain accepts imported when current holds only its genesis block or
// when every block of current appears unchanged at the head of imported.
func extendsChain(current, imported []models.Block) error {
	if len(current) <= 1 {
		return nil
	}
	if len(imported) < len(current) {
		return apperrors.NewConflictError("ledger", fmt.Sprintf("imported chain has %d blocks, ledger already has %d", len(imported), len(current))).
			WithDetail("ledger_blocks", len(current)).
			WithDetail("imported_blocks", len(imported))
	}
	for i := range current {
		if imported[i].Hash != current[i].Hash {
			return apperrors.NewConflictError("ledger", fmt.Sprintf("imported chain diverges at block %d", i)).
				WithDetail("block", i)
		}
	}
	return nil
}

func cloneChain(blocks []models.Block) []models.Block {
	out := make([]models.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

func (c *Core) checkChain(blocks []models.Block) error {
	if err := models.ValidateChain(blocks, c.provider); err != nil {
		return apperrors.NewIntegrityError(err.Error())
	}
	if err := models.VerifyChainSignatures(blocks, c.provider); err != nil {
		return apperrors.NewIntegrityError(err.Error())
	}
	return nil
}

// History returns confirmed transactions where pub is sender or recipient,
// oldest first.
func (c *Core) History(pub string) []models.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Transaction
	for _, b := range c.chain {
		for _, tx := range b.Transactions {
			if tx.Sender == pub || tx.Recipient == pub {
				out = append(out, tx.Clone())
			}
		}
	}
	return out
}

type walletSecret struct {
	PublicKey     string    `json:"public_key"`
	PrivateKey    []byte    `json:"private_key"`
	IdentityToken string    `json:"identity_token"`
	TokenIssuedAt time.Time `json:"token_issued_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExportWallet seals the wallet for pub under passphrase. The caller must
// present the wallet's active identity token.
func (c *Core) ExportWallet(pub, token, passphrase string) (*encryption.SealedSecret, error) {
	c.mu.Lock()
	wallet, ok := c.wallets[pub]
	var secret walletSecret
	if ok {
		secret = walletSecret{
			PublicKey:     wallet.PublicKey,
			PrivateKey:    append([]byte(nil), wallet.PrivateKey...),
			IdentityToken: wallet.IdentityToken,
			TokenIssuedAt: wallet.TokenIssuedAt,
			CreatedAt:     wallet.CreatedAt,
		}
	}
	c.mu.Unlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("wallet", pub)
	}
	if token == "" || secret.IdentityToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(secret.IdentityToken)) != 1 {
		return nil, apperrors.NewNotVerifiedError(pub, "identity token does not match")
	}
	if passphrase == "" {
		return nil, apperrors.NewValidationError("passphrase", "is required")
	}

	payload, err := json.Marshal(secret)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode wallet")
	}
	sealed, err := c.vault.Seal(payload, passphrase)
	if err != nil {
		return nil, apperrors.NewProviderError("seal wallet", err)
	}
	return sealed, nil
}

// ImportWallet opens a sealed wallet and registers it. The key pair is
// checked with a challenge signature before the wallet is accepted.
func (c *Core) ImportWallet(sealed *encryption.SealedSecret, passphrase string) (models.Wallet, error) {
	if sealed == nil {
		return models.Wallet{}, apperrors.NewValidationError("wallet", "is required")
	}
	payload, err := c.vault.Open(sealed, passphrase)
	if err != nil {
		if errors.Is(err, encryption.ErrVaultOpen) {
			return models.Wallet{}, apperrors.NewValidationError("passphrase", "does not open the sealed wallet")
		}
		return models.Wallet{}, apperrors.NewProviderError("open wallet", err)
	}

	var secret walletSecret
	if err := json.Unmarshal(payload, &secret); err != nil {
		return models.Wallet{}, apperrors.NewFormatError("wallet", "malformed payload")
	}
	pubBytes, err := hex.DecodeString(secret.PublicKey)
	if err != nil {
		return models.Wallet{}, apperrors.NewFormatError("public_key", "not hex encoded")
	}
	challenge := []byte("identity-ledger/wallet-import/" + secret.PublicKey)
	sig, err := c.provider.Sign(secret.PrivateKey, challenge)
	if err != nil {
		return models.Wallet{}, apperrors.NewProviderError("sign challenge", err)
	}
	if !c.provider.Verify(pubBytes, sig, challenge) {
		return models.Wallet{}, apperrors.NewIntegrityError("private key does not match public key")
	}

	wallet := &models.Wallet{
		PublicKey:     secret.PublicKey,
		PrivateKey:    secret.PrivateKey,
		IdentityToken: secret.IdentityToken,
		TokenIssuedAt: secret.TokenIssuedAt,
		CreatedAt:     secret.CreatedAt,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.wallets[wallet.PublicKey]; exists {
		return models.Wallet{}, apperrors.NewConflictError("wallet", "already registered")
	}
	c.wallets[wallet.PublicKey] = wallet
	log.Info().Str("public_key", wallet.PublicKey).Msg("Wallet imported")
	return publicView(wallet), nil
}

// Wallet returns the wallet for pub without its private key.
func (c *Core) Wallet(pub string) (models.Wallet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.wallets[pub]
	if !ok {
		return models.Wallet{}, false
	}
	return publicView(w), true
}

func publicView(w *models.Wallet) models.Wallet {
	v := *w
	v.PrivateKey = nil
	return v
}

// signedTransaction builds, signs and re-verifies a transaction for wallet.
func (c *Core) signedTransaction(wallet *models.Wallet, recipient string, amount decimal.Decimal, at time.Time) (models.Transaction, error) {
	tx := models.Transaction{
		Sender:        wallet.PublicKey,
		Recipient:     recipient,
		Amount:        amount,
		IdentityToken: wallet.IdentityToken,
		Timestamp:     at.UnixMilli(),
		Status:        models.TxPending,
	}

	sig, err := c.provider.Sign(wallet.PrivateKey, tx.CanonicalMessage())
	if err != nil {
		return models.Transaction{}, apperrors.NewProviderError("sign", err)
	}
	tx.Signature = sig

	if !tx.VerifySignature(c.provider) {
		log.Error().Str("sender", wallet.PublicKey).Msg("Signature failed re-verification")
		return models.Transaction{}, apperrors.NewIntegrityError("signature verification failed")
	}
	tx.TxHash = tx.ComputeHash(c.provider)
	return tx, nil
}

// appendAndSeal must be called with c.mu held.
func (c *Core) appendAndSeal(tx models.Transaction) models.Block {
	c.pending = append(c.pending, tx)
	return c.sealBlock()
}

// sealBlock moves every pending transaction into a new block. Must be called
// with c.mu held.
func (c *Core) sealBlock() models.Block {
	last := c.chain[len(c.chain)-1]

	txs := make([]models.Transaction, len(c.pending))
	for i, tx := range c.pending {
		tx.Status = models.TxConfirmed
		txs[i] = tx
	}

	ts := c.now().UnixMilli()
	if ts < last.Timestamp {
		ts = last.Timestamp
	}
	block := models.NewBlock(last.Index+1, txs, last.Hash, ts, c.provider)

	c.chain = append(c.chain, *block)
	c.pending = make([]models.Transaction, 0)

	log.Debug().
		Uint64("index", block.Index).
		Str("hash", string(block.Hash)).
		Int("transactions", len(txs)).
		Msg("Block sealed")

	for _, hook := range c.hooks {
		hook(block.Clone(), len(c.chain))
	}
	return block.Clone()
}

func (c *Core) receipt(block models.Block, wallet *models.Wallet) *models.Receipt {
	r := &models.Receipt{
		Transaction: block.Transactions[len(block.Transactions)-1],
		BlockIndex:  block.Index,
		BlockHash:   block.Hash,
	}
	if wallet != nil {
		r.PublicKey = wallet.PublicKey
		r.IdentityToken = wallet.IdentityToken
	}
	return r
}

func (c *Core) newIdentityToken(pub string, at time.Time) string {
	seed := pub + ":" + strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()
	return hex.EncodeToString(c.provider.Hash([]byte(seed)))
}

// Package registry tracks the verification steps completed by each identity.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"identity-ledger/apperrors"
	"identity-ledger/models"
	"identity-ledger/storage"
)

const dateLayout = "2006-01-02"

var (
	idNumberPattern = regexp.MustCompile(`^\d{12}$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	idSeparators    = strings.NewReplacer(" ", "", "-", "")
)

// DefaultRequiredSteps is the completion rule used when none is configured.
var DefaultRequiredSteps = []models.VerificationStep{models.StepKYC, models.StepPhoto}

// Verifier is the read side used by the badge issuer and the API.
type Verifier interface {
	IsFullyVerified(publicKey string) bool
}

type Config struct {
	// FilePath, when set, is where records are persisted as JSON.
	FilePath string
	AutoSave bool
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithConfig(cfg Config) Option {
	return func(r *Registry) { r.config = cfg }
}

type Registry struct {
	required []models.VerificationStep
	validate *validator.Validate
	now      func() time.Time
	config   Config

	mu      sync.RWMutex
	records map[string]*models.IdentityVerification
}

// New builds a registry whose completion rule is the AND of required. An
// empty list falls back to DefaultRequiredSteps.
func New(required []models.VerificationStep, opts ...Option) (*Registry, error) {
	if len(required) == 0 {
		required = DefaultRequiredSteps
	}
	for _, step := range required {
		switch step {
		case models.StepKYC, models.StepPhoto, models.StepPhone:
		default:
			return nil, fmt.Errorf("unknown verification step %q", step)
		}
	}

	r := &Registry{
		required: append([]models.VerificationStep(nil), required...),
		validate: validator.New(),
		now:      time.Now,
		records:  make(map[string]*models.IdentityVerification),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(r.config.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return r, nil
}

func (r *Registry) RequiredSteps() []models.VerificationStep {
	return append([]models.VerificationStep(nil), r.required...)
}

// VerifyKYC validates fields and stores them as the KYC step of publicKey,
// overwriting any earlier submission.
func (r *Registry) VerifyKYC(publicKey string, fields models.KYCFields) (models.IdentityVerification, error) {
	if strings.TrimSpace(publicKey) == "" {
		return models.IdentityVerification{}, apperrors.NewValidationError("public_key", "is required")
	}
	normalized, err := r.normalizeKYC(fields)
	if err != nil {
		return models.IdentityVerification{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := r.recordLocked(publicKey)
	rec.KYC = normalized
	rec.KYCVerified = true
	rec.KYCVerifiedAt = now
	r.evaluateLocked(rec, now)

	log.Info().Str("public_key", publicKey).Bool("verified", rec.Verified).Msg("KYC verified")
	return r.commitLocked(rec)
}

// SavePhotoVerification attaches photo evidence, creating the record when
// publicKey has none yet.
func (r *Registry) SavePhotoVerification(publicKey, photoRef string) (models.IdentityVerification, error) {
	if strings.TrimSpace(publicKey) == "" {
		return models.IdentityVerification{}, apperrors.NewValidationError("public_key", "is required")
	}
	photoRef = strings.TrimSpace(photoRef)
	if photoRef == "" {
		return models.IdentityVerification{}, apperrors.NewValidationError("photo_ref", "is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := r.recordLocked(publicKey)
	rec.PhotoRef = photoRef
	rec.PhotoVerified = true
	rec.PhotoVerifiedAt = now
	r.evaluateLocked(rec, now)

	log.Info().Str("public_key", publicKey).Bool("verified", rec.Verified).Msg("Photo verification saved")
	return r.commitLocked(rec)
}

// VerifyPhone marks the phone step complete. Callers are expected to have
// confirmed possession of the number first.
func (r *Registry) VerifyPhone(publicKey, phone string) (models.IdentityVerification, error) {
	if strings.TrimSpace(publicKey) == "" {
		return models.IdentityVerification{}, apperrors.NewValidationError("public_key", "is required")
	}
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return models.IdentityVerification{}, apperrors.NewFormatError("phone_number", "must be 10 to 15 digits")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := r.recordLocked(publicKey)
	rec.Phone = phone
	rec.PhoneVerified = true
	rec.PhoneVerifiedAt = now
	r.evaluateLocked(rec, now)

	log.Info().Str("public_key", publicKey).Msg("Phone verified")
	return r.commitLocked(rec)
}

func (r *Registry) IsFullyVerified(publicKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[publicKey]
	return ok && r.complete(rec)
}

func (r *Registry) Get(publicKey string) (models.IdentityVerification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[publicKey]
	if !ok {
		return models.IdentityVerification{}, apperrors.NewNotFoundError("verification", publicKey)
	}
	return *rec, nil
}

// MatchesKYC reports whether fields identify the same person as the stored
// KYC submission. Used before sensitive recovery operations.
func (r *Registry) MatchesKYC(publicKey string, fields models.KYCFields) bool {
	r.mu.RLock()
	rec, ok := r.records[publicKey]
	r.mu.RUnlock()
	if !ok || !rec.KYCVerified {
		return false
	}
	candidate := fields
	candidate.IDNumber = idSeparators.Replace(strings.TrimSpace(fields.IDNumber))
	return strings.EqualFold(strings.TrimSpace(candidate.FullName), rec.KYC.FullName) &&
		strings.TrimSpace(candidate.DateOfBirth) == rec.KYC.DateOfBirth &&
		candidate.IDNumber == rec.KYC.IDNumber
}

// Load replaces the in-memory records with the contents of the configured
// file. A missing file is not an error.
func (r *Registry) Load() error {
	if r.config.FilePath == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.config.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read registry file: %w", err)
	}

	var snapshot struct {
		Records []*models.IdentityVerification `json:"records"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal registry data: %w", err)
	}

	r.records = make(map[string]*models.IdentityVerification, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		if rec.PublicKey == "" {
			return fmt.Errorf("registry record without public key")
		}
		r.records[rec.PublicKey] = rec
	}
	log.Info().Int("records", len(r.records)).Msg("Verification records loaded")
	return nil
}

func (r *Registry) normalizeKYC(fields models.KYCFields) (models.KYCFields, error) {
	fields.FullName = strings.TrimSpace(fields.FullName)
	fields.DateOfBirth = strings.TrimSpace(fields.DateOfBirth)
	fields.Gender = strings.ToLower(strings.TrimSpace(fields.Gender))
	fields.PhoneNumber = strings.TrimSpace(fields.PhoneNumber)
	fields.IDNumber = idSeparators.Replace(strings.TrimSpace(fields.IDNumber))

	if err := r.validate.Struct(fields); err != nil {
		appErr := apperrors.FromValidator(err)
		appErr.Code = apperrors.ErrCodeFormat
		return fields, appErr
	}
	if !idNumberPattern.MatchString(fields.IDNumber) {
		return fields, apperrors.NewFormatError("id_number", "must be exactly 12 digits")
	}
	dob, err := time.Parse(dateLayout, fields.DateOfBirth)
	if err != nil {
		return fields, apperrors.NewFormatError("date_of_birth", "must use YYYY-MM-DD")
	}
	if dob.After(r.now()) {
		return fields, apperrors.NewFormatError("date_of_birth", "must not be in the future")
	}
	if !phonePattern.MatchString(fields.PhoneNumber) {
		return fields, apperrors.NewFormatError("phone_number", "must be 10 to 15 digits")
	}
	return fields, nil
}

func (r *Registry) recordLocked(publicKey string) *models.IdentityVerification {
	rec, ok := r.records[publicKey]
	if !ok {
		rec = &models.IdentityVerification{PublicKey: publicKey}
		r.records[publicKey] = rec
	}
	return rec
}

func (r *Registry) complete(rec *models.IdentityVerification) bool {
	for _, step := range r.required {
		if !rec.StepComplete(step) {
			return false
		}
	}
	return true
}

// evaluateLocked sets Verified the first time the completion rule holds.
// VerifiedAt is not moved by later submissions.
func (r *Registry) evaluateLocked(rec *models.IdentityVerification, now time.Time) {
	if r.complete(rec) && !rec.Verified {
		rec.Verified = true
		rec.VerifiedAt = now
	}
}

func (r *Registry) commitLocked(rec *models.IdentityVerification) (models.IdentityVerification, error) {
	if r.config.AutoSave {
		if err := r.saveLocked(); err != nil {
			return *rec, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to persist verification record")
		}
	}
	return *rec, nil
}

func (r *Registry) saveLocked() error {
	if r.config.FilePath == "" {
		return nil
	}
	snapshot := struct {
		Records []*models.IdentityVerification `json:"records"`
	}{Records: make([]*models.IdentityVerification, 0, len(r.records))}
	for _, rec := range r.records {
		snapshot.Records = append(snapshot.Records, rec)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry data: %w", err)
	}
	if err := storage.WriteFileAtomic(r.config.FilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to save registry file: %w", err)
	}
	return nil
}

// Package otp delivers and checks one-time codes used to confirm possession of
// a phone number.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"identity-ledger/apperrors"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 3
	DefaultLength      = 6
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// ErrNotFound is returned by a Store when no code is pending for a phone.
var ErrNotFound = errors.New("otp: no pending code")

type Entry struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

type Store interface {
	Save(ctx context.Context, phone string, entry Entry, ttl time.Duration) error
	Get(ctx context.Context, phone string) (Entry, error)
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	Delete(ctx context.Context, phone string) error
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLength(n int) Option {
	return func(s *Service) {
		if n >= 4 && n <= 10 {
			s.length = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store       Store
	notifier    Notifier
	ttl         time.Duration
	maxAttempts int
	length      int
	now         func() time.Time
}

func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:       store,
		notifier:    notifier,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		length:      DefaultLength,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizePhone strips formatting characters and checks the result.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(cleaned) {
		return "", apperrors.NewFormatError("phone_number", "must be 10 to 15 digits")
	}
	return cleaned, nil
}

// Send generates a fresh code for phone, replacing any pending one, and
// delivers it through the notifier.
func (s *Service) Send(ctx context.Context, phone string) (DeliveryReceipt, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return DeliveryReceipt{}, err
	}

	code, err := s.generateCode()
	if err != nil {
		return DeliveryReceipt{}, apperrors.NewProviderError("generate code", err)
	}
	entry := Entry{Code: code, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.store.Save(ctx, phone, entry, s.ttl); err != nil {
		return DeliveryReceipt{}, apperrors.NewProviderError("store code", err)
	}

	msg := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	receipt, err := s.notifier.Send(ctx, phone, msg)
	if err != nil {
		if delErr := s.store.Delete(ctx, phone); delErr != nil {
			log.Error().Err(delErr).Msg("Failed to discard undelivered code")
		}
		return DeliveryReceipt{}, apperrors.NewProviderError("deliver code", err)
	}

	log.Info().Str("phone", maskPhone(phone)).Str("delivery_id", receipt.ID).Msg("Verification code sent")
	return receipt, nil
}

// Resend discards the pending code and sends a new one.
func (s *Service) Resend(ctx context.Context, phone string) (DeliveryReceipt, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return DeliveryReceipt{}, err
	}
	if err := s.store.Delete(ctx, normalized); err != nil {
		return DeliveryReceipt{}, apperrors.NewProviderError("discard code", err)
	}
	return s.Send(ctx, normalized)
}

// Verify checks code against the pending entry. A wrong code consumes an
// attempt; the entry is dropped on success, on expiry and once attempts run
// out.
func (s *Service) Verify(ctx context.Context, phone, code string) (bool, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, apperrors.NewValidationError("code", "is required")
	}

	entry, err := s.store.Get(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, apperrors.NewNotFoundError("verification code", phone)
		}
		return false, apperrors.NewProviderError("load code", err)
	}

	if !s.now().Before(entry.ExpiresAt) {
		_ = s.store.Delete(ctx, phone)
		return false, apperrors.NewValidationError("code", "has expired")
	}
	if entry.Attempts >= s.maxAttempts {
		_ = s.store.Delete(ctx, phone)
		return false, apperrors.NewValidationError("code", "too many failed attempts")
	}

	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(code)) == 1 {
		if err := s.store.Delete(ctx, phone); err != nil {
			return false, apperrors.NewProviderError("consume code", err)
		}
		return true, nil
	}

	attempts, err := s.store.IncrementAttempts(ctx, phone)
	if err != nil {
		return false, apperrors.NewProviderError("record attempt", err)
	}
	if attempts >= s.maxAttempts {
		_ = s.store.Delete(ctx, phone)
		log.Warn().Str("phone", maskPhone(phone)).Msg("Verification code locked after failed attempts")
	}
	return false, nil
}

func (s *Service) generateCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", s.length, n), nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

package models

import "time"

type VerificationStep string

const (
	StepKYC   VerificationStep = "kyc"
	StepPhoto VerificationStep = "photo"
	StepPhone VerificationStep = "phone"
)

type KYCFields struct {
	FullName    string `json:"full_name" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	IDNumber    string `json:"id_number" validate:"required"`
	Gender      string `json:"gender" validate:"required,oneof=male female other"`
	PhoneNumber string `json:"phone_number" validate:"required"`
}

type IdentityVerification struct {
	PublicKey string    `json:"public_key"`
	KYC       KYCFields `json:"kyc"`

	KYCVerified   bool      `json:"kyc_verified"`
	KYCVerifiedAt time.Time `json:"kyc_verified_at,omitempty"`

	PhotoRef        string    `json:"photo_ref,omitempty"`
	PhotoVerified   bool      `json:"photo_verified"`
	PhotoVerifiedAt time.Time `json:"photo_verified_at,omitempty"`

	Phone           string    `json:"phone,omitempty"`
	PhoneVerified   bool      `json:"phone_verified"`
	PhoneVerifiedAt time.Time `json:"phone_verified_at,omitempty"`

	// Verified reflects the configured completion rule.
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
}

// StepComplete reports whether a single sub-verification has been done.
func (v *IdentityVerification) StepComplete(step VerificationStep) bool {
	switch step {
	case StepKYC:
		return v.KYCVerified
	case StepPhoto:
		return v.PhotoVerified
	case StepPhone:
		return v.PhoneVerified
	default:
		return false
	}
}

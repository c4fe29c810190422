package models

import "time"

// Wallet is owned by a single session. The private key never leaves the
// process except in sealed form.
type Wallet struct {
	PublicKey     string    `json:"public_key"`
	PrivateKey    []byte    `json:"-"`
	IdentityToken string    `json:"identity_token,omitempty"`
	TokenIssuedAt time.Time `json:"token_issued_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// RegistrationRequest carries the fields captured at sign up.
type RegistrationRequest struct {
	IDNumber string `json:"id_number" validate:"required"`
	Selfie   string `json:"selfie" validate:"required"`
}

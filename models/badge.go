package models

import "time"

type BadgeStatus string

const (
	BadgeActive  BadgeStatus = "Active"
	BadgeExpired BadgeStatus = "Expired"
)

type Badge struct {
	ID             string    `json:"id"`
	OwnerPublicKey string    `json:"owner_public_key"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ImageRef       string    `json:"image_ref"`
	ProvenanceTx   Hash      `json:"provenance_tx"`
}

// StatusAt is computed, never stored: expired once t reaches ExpiresAt.
func (b *Badge) StatusAt(t time.Time) BadgeStatus {
	if t.Before(b.ExpiresAt) {
		return BadgeActive
	}
	return BadgeExpired
}

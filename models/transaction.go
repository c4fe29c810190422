package models

import (
	"encoding/hex"

	"github.com/shopspring/decimal"
)

const (
	// SystemRecipient is the recipient of registration and mint transactions.
	SystemRecipient = "system"

	txDomainTag = "identity-ledger/tx/v1"
)

type TxStatus string

const (
	TxPending   TxStatus = "Pending"
	TxConfirmed TxStatus = "Confirmed"
	TxRejected  TxStatus = "Rejected"
)

// Hash is a lowercase hex encoded digest.
type Hash string

func HashFromBytes(b []byte) Hash {
	return Hash(hex.EncodeToString(b))
}

type Transaction struct {
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	IdentityToken string          `json:"identity_token"`
	Timestamp     int64           `json:"timestamp"`
	Signature     []byte          `json:"signature"`
	Status        TxStatus        `json:"status"`
	TxHash        Hash            `json:"tx_hash"`
}

// CanonicalMessage returns the exact bytes that are signed by the sender.
func (tx *Transaction) CanonicalMessage() []byte {
	var w canonicalWriter
	w.str(txDomainTag)
	w.str(tx.Sender)
	w.str(tx.Recipient)
	w.str(tx.Amount.String())
	w.str(tx.IdentityToken)
	w.i64(tx.Timestamp)
	return w.bytes()
}

// HashInput is the canonical message followed by the signature.
func (tx *Transaction) HashInput() []byte {
	var w canonicalWriter
	w.field(tx.CanonicalMessage())
	w.field(tx.Signature)
	return w.bytes()
}

func (tx *Transaction) ComputeHash(h Hasher) Hash {
	return HashFromBytes(h.Hash(tx.HashInput()))
}

// VerifySignature checks the signature against the sender's hex public key.
func (tx *Transaction) VerifySignature(v Verifier) bool {
	pub, err := hex.DecodeString(tx.Sender)
	if err != nil || len(tx.Signature) == 0 {
		return false
	}
	return v.Verify(pub, tx.Signature, tx.CanonicalMessage())
}

func (tx *Transaction) IsSystemDirected() bool {
	return tx.Recipient == SystemRecipient
}

func (tx Transaction) Clone() Transaction {
	c := tx
	if tx.Signature != nil {
		c.Signature = append([]byte(nil), tx.Signature...)
	}
	return c
}

// Receipt is returned for every accepted operation.
type Receipt struct {
	Transaction   Transaction `json:"transaction"`
	BlockIndex    uint64      `json:"block_index"`
	BlockHash     Hash        `json:"block_hash"`
	PublicKey     string      `json:"public_key,omitempty"`
	IdentityToken string      `json:"identity_token,omitempty"`
}

package domain

import "time"

// OwnerKind identifies what kind of entity owns a wallet.
type OwnerKind string

const (
	OwnerOperator OwnerKind = "operator"
	OwnerUser     OwnerKind = "user"
	OwnerOracle   OwnerKind = "oracle"
)

// Wallet is a custodial signing identity. EncryptedSecret is the sealed
// private key envelope; plaintext keys are never stored.
type Wallet struct {
	ID              int64
	OwnerKind       OwnerKind
	OwnerID         string
	Address         string
	EncryptedSecret []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

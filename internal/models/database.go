package models

import (
	"time"
)

// User is the account holder referenced by vaults, wallets and ledger rows.
// Registration and login live elsewhere; only the fields used for transfer
// routing are carried here.
type User struct {
	Id            string    `db:"id"`
	Name          string    `db:"name"`
	Email         string    `db:"email"`
	Username      *string   `db:"username"`
	PrivacyId     string    `db:"privacy_id"`
	EmailVerified bool      `db:"email_verified"`
	HasVault      bool      `db:"has_vault"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// DisplayName returns the username when set, otherwise the name.
func (u User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return u.Name
}

// Vault is the provider-side custody account owned by exactly one user.
type Vault struct {
	Id        string    `db:"id"`
	VaultId   string    `db:"vault_id"`
	UserId    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Wallet binds one user and one asset to the canonical deposit address
// inside the user's vault.
type Wallet struct {
	Id        string    `db:"id"`
	UserId    string    `db:"user_id"`
	VaultId   string    `db:"vault_id"`
	Address   string    `db:"address"`
	Currency  string    `db:"currency"`
	Network   string    `db:"network"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ReconciliationKind names the write that failed after the provider accepted a transfer.
type ReconciliationKind string

const (
	ReconcilePair   ReconciliationKind = "pair"
	ReconcileSingle ReconciliationKind = "single"
)

// ReconciliationItem records money that moved upstream without a local ledger row.
type ReconciliationItem struct {
	Id             string             `db:"id"`
	Kind           ReconciliationKind `db:"kind"`
	ProviderRefId  string             `db:"provider_ref_id"`
	IdempotencyKey string             `db:"idempotency_key"`
	Payload        []byte             `db:"payload"`
	Error          string             `db:"error"`
	Attempts       int                `db:"attempts"`
	CreatedAt      time.Time          `db:"created_at"`
	ResolvedAt     *time.Time         `db:"resolved_at"`
}

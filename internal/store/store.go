package store

import (
	"context"
	"errors"
	"time"

	"custody-wallet-go/internal/models"
)

// Sentinel errors returned by store implementations.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrVaultNotFound        = errors.New("vault not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrConflict             = errors.New("unique constraint conflict")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrImmutableTransaction = errors.New("transaction is in a terminal status")
	ErrClaimHeld            = errors.New("vault creation claimed by another worker")
)

// CreateUserParams contains the parameters for creating a user.
type CreateUserParams struct {
	Id            string
	Name          string
	Email         string
	Username      string
	EmailVerified bool
}

// UserStore reads and creates the user records transfers are routed by.
type UserStore interface {
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByPrivacyId(ctx context.Context, privacyId string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SetEmailVerified(ctx context.Context, userId string, verified bool) error
}

// VaultStore persists the user to vault mapping.
type VaultStore interface {
	GetVaultByUser(ctx context.Context, userId string) (*models.Vault, error)
	// ClaimVaultCreation reserves the right to create the user's vault. It
	// returns the existing vault when one is already recorded, (nil, nil) when
	// the claim was taken, and ErrClaimHeld while another live claim exists.
	// Claims older than staleBefore may be taken over.
	ClaimVaultCreation(ctx context.Context, userId, token string, now, staleBefore time.Time) (*models.Vault, error)
	ReleaseVaultClaim(ctx context.Context, userId, token string) error
	// InsertVault records the vault, sets the user's has_vault flag and
	// clears the claim in one transaction. ErrConflict if a vault exists.
	InsertVault(ctx context.Context, userId, providerVaultId string) (*models.Vault, error)
}

// InsertWalletParams contains the parameters for recording a wallet.
type InsertWalletParams struct {
	UserId   string
	VaultId  string
	Address  string
	Currency string
	Network  string
}

// WalletStore persists wallets, one per (user, currency, network).
type WalletStore interface {
	GetWallet(ctx context.Context, userId, currency, network string) (*models.Wallet, error)
	GetWalletById(ctx context.Context, walletId string) (*models.Wallet, error)
	FindWalletByAddress(ctx context.Context, currency, network, address string) (*models.Wallet, error)
	InsertWallet(ctx context.Context, params InsertWalletParams) (*models.Wallet, error)
	UpdateWalletAddress(ctx context.Context, walletId, address string) error
	ListWallets(ctx context.Context, userId string) ([]models.Wallet, error)
}

// PendingCursor is the keyset position after the last pending row returned.
// The zero value starts from the oldest row.
type PendingCursor struct {
	CreatedAt time.Time
	Id        string
}

// IsZero reports whether the cursor points at the start.
func (c PendingCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.Id == ""
}

// LedgerStore persists immutable transaction rows.
type LedgerStore interface {
	// InsertTransactions writes all rows in one transaction. A provider
	// reference collision fails the whole batch with ErrDuplicateTransaction.
	InsertTransactions(ctx context.Context, txs ...*models.Transaction) error
	FindByProviderRef(ctx context.Context, providerRefId string) ([]models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) ([]models.Transaction, error)
	FindByGroupId(ctx context.Context, groupId string) ([]models.Transaction, error)
	// UpdatePendingStatus moves pending rows for the reference to status and
	// returns how many rows changed.
	UpdatePendingStatus(ctx context.Context, providerRefId string, status models.TxStatus) (int64, error)
	// ListPending pages pending rows with a provider ref in (created_at, id)
	// order, starting after the cursor.
	ListPending(ctx context.Context, createdBefore time.Time, after PendingCursor, limit int) ([]models.Transaction, error)
	History(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
}

// ReconciliationStore persists transfers that need a ledger replay.
type ReconciliationStore interface {
	RecordReconciliationItem(ctx context.Context, item *models.ReconciliationItem) error
	ListOpenReconciliationItems(ctx context.Context, limit int) ([]models.ReconciliationItem, error)
	MarkReconciliationAttempt(ctx context.Context, id, lastError string) error
	ResolveReconciliationItem(ctx context.Context, id string) error
}

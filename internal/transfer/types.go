package transfer

import (
	"context"
	"errors"
	"strings"

	"custody-wallet-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrIdempotencyKeyReused means the key already belongs to another transfer.
var ErrIdempotencyKeyReused = errors.New("idempotency key belongs to a different transfer")

// ProviderFailure is returned when the provider call fails. No ledger rows
// were written; a retry must reuse IdempotencyKey, which is the generated key
// when the request carried none.
type ProviderFailure struct {
	IdempotencyKey string
	Err            error
}

func (e *ProviderFailure) Error() string {
	return "provider transfer failed: " + e.Err.Error()
}

func (e *ProviderFailure) Unwrap() error { return e.Err }

// Route is how a request was executed at the provider.
type Route string

const (
	RouteInternal Route = "internal"
	RouteDonation Route = "donation"
	// RouteAddressMatch is an external request whose destination is an
	// internal wallet, executed as a vault-to-vault transfer.
	RouteAddressMatch Route = "address_match"
	RouteExternal     Route = "external"
)

// IsPair reports whether the route writes an internal ledger pair.
func (r Route) IsPair() bool {
	return r != RouteExternal
}

// InternalRequest sends to another user identified by privacy id or username.
type InternalRequest struct {
	UserId         string
	WalletId       string
	Asset          string
	Amount         decimal.Decimal
	Recipient      string
	IdempotencyKey string
	Note           string
}

// DonationRequest sends to the configured donation account.
type DonationRequest struct {
	UserId         string
	WalletId       string
	Asset          string
	Amount         decimal.Decimal
	IdempotencyKey string
	Note           string
}

// ExternalRequest sends to a raw address.
type ExternalRequest struct {
	UserId         string
	WalletId       string
	Asset          string
	Amount         decimal.Decimal
	Destination    string
	IdempotencyKey string
	Note           string
}

// Result carries the provider's transfer id and its own status string,
// unmapped, along with the rows written.
type Result struct {
	ProviderTxId   string
	ProviderStatus string
	GroupId        string
	IdempotencyKey string
	Route          Route
	Transactions   []models.Transaction
	// Replayed is set when the key was already recorded and no provider call was made.
	Replayed bool
}

// Alerter publishes the reconciliation-required condition.
type Alerter interface {
	ReconciliationRequired(ctx context.Context, item models.ReconciliationItem) error
}

// NewIdempotencyKey returns a random 32 character hex key.
func NewIdempotencyKey() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

const (
	metaRoute          = "route"
	metaProviderStatus = "provider_status"
)

func resultFromRows(key string, rows []models.Transaction) *Result {
	first := rows[0]
	res := &Result{
		ProviderTxId:   models.Deref(first.ProviderRefId),
		GroupId:        models.Deref(first.GroupId),
		IdempotencyKey: key,
		Transactions:   rows,
		Replayed:       true,
	}
	if s, ok := first.Meta[metaProviderStatus].(string); ok {
		res.ProviderStatus = s
	}
	if s, ok := first.Meta[metaRoute].(string); ok {
		res.Route = Route(s)
	}
	return res
}

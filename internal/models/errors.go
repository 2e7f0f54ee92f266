package models

import "errors"

// Client errors. These are surfaced to the caller unchanged and never retried.
var (
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrAssetMismatch          = errors.New("asset does not match wallet")
	ErrDestinationNotFound    = errors.New("destination not found")
	ErrDestinationNotVerified = errors.New("destination user is not verified")
	ErrUnsupportedAsset       = errors.New("unsupported asset")
	ErrInvalidAddress         = errors.New("malformed destination address")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrSelfTransfer           = errors.New("cannot transfer to the same user")
	ErrVaultAlreadyExists     = errors.New("vault already exists")
	ErrRateLimited            = errors.New("rate limit exceeded")
)

// ErrReconciliationRequired means the provider accepted a transfer but the
// ledger write failed. Money moved upstream without a local record.
var ErrReconciliationRequired = errors.New("reconciliation required")

var clientErrors = []error{
	ErrWalletNotFound,
	ErrAssetMismatch,
	ErrDestinationNotFound,
	ErrDestinationNotVerified,
	ErrUnsupportedAsset,
	ErrInvalidAddress,
	ErrInvalidAmount,
	ErrSelfTransfer,
	ErrVaultAlreadyExists,
	ErrRateLimited,
}

// IsClientError reports whether err is caused by the request itself.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package store

import (
	"errors"
	"testing"
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrUserNotFound, ErrVaultNotFound, ErrWalletNotFound, ErrConflict,
		ErrDuplicateTransaction, ErrTransactionNotFound, ErrImmutableTransaction, ErrClaimHeld,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v should not match %v", a, b)
			}
		}
	}

	var _ LedgerStore
	var _ VaultStore
	var _ WalletStore
	var _ UserStore
	var _ ReconciliationStore
}

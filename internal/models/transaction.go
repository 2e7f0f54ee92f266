package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType classifies a value movement.
type TxType string

const (
	TxCryptoIn    TxType = "crypto_in"
	TxCryptoOut   TxType = "crypto_out"
	TxInternalIn  TxType = "internal_in"
	TxInternalOut TxType = "internal_out"
	TxFiatIn      TxType = "fiat_in"
	TxFiatOut     TxType = "fiat_out"
	TxSwap        TxType = "swap"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxCryptoIn, TxCryptoOut, TxInternalIn, TxInternalOut, TxFiatIn, TxFiatOut, TxSwap:
		return true
	}
	return false
}

// TxStatus is the canonical lifecycle state of a ledger row.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxCanceled  TxStatus = "canceled"
)

// IsTerminal reports whether no further status transition is allowed.
func (s TxStatus) IsTerminal() bool {
	return s == TxConfirmed || s == TxFailed || s == TxCanceled
}

// Valid reports whether s is a known status.
func (s TxStatus) Valid() bool {
	return s == TxPending || s.IsTerminal()
}

// Provider tags identify the subsystem that originated a ledger row.
const (
	ProviderFireblocks = "fireblocks"
	ProviderPrime      = "prime"
	ProviderInternal   = "internal"
	ProviderPlatform   = "platform"
)

// Transaction is an immutable ledger entry. Only Status and UpdatedAt move
// after insert, and only until a terminal status is reached.
type Transaction struct {
	Id       string   `db:"id"`
	UserId   string   `db:"user_id"`
	WalletId *string  `db:"wallet_id"`
	Provider string   `db:"provider"`
	Type     TxType   `db:"type"`
	Status   TxStatus `db:"status"`

	Amount       decimal.Decimal     `db:"amount"`
	Currency     string              `db:"currency"`
	FeeAmount    decimal.NullDecimal `db:"fee_amount"`
	FeeCurrency  *string             `db:"fee_currency"`
	BalanceAfter decimal.NullDecimal `db:"balance_after"`
	Description  *string             `db:"description"`

	GroupId        *string `db:"group_id"`
	IdempotencyKey *string `db:"idempotency_key"`
	ProviderRefId  *string `db:"provider_ref_id"`

	Chain            *string `db:"chain"`
	TxHash           *string `db:"tx_hash"`
	AddressFrom      *string `db:"address_from"`
	AddressTo        *string `db:"address_to"`
	CounterpartyUser *string `db:"counterparty_user"`

	IbanFrom      *string `db:"iban_from"`
	IbanTo        *string `db:"iban_to"`
	PaymentMethod *string `db:"payment_method"`
	MerchantName  *string `db:"merchant_name"`
	CardLast4     *string `db:"card_last4"`

	OriginalAmount   decimal.NullDecimal `db:"original_amount"`
	OriginalCurrency *string             `db:"original_currency"`
	FxRate           decimal.NullDecimal `db:"fx_rate"`
	PayAmount        decimal.NullDecimal `db:"pay_amount"`
	PayCurrency      *string             `db:"pay_currency"`
	ReceiveAmount    decimal.NullDecimal `db:"receive_amount"`
	ReceiveCurrency  *string             `db:"receive_currency"`

	Meta map[string]any `db:"meta"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Str returns a pointer to s, or nil for the empty string.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

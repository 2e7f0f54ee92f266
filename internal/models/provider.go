package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is a vault's balance for one asset as reported by the provider.
type AssetBalance struct {
	Balance   decimal.Decimal
	Pending   decimal.Decimal
	Available decimal.Decimal
}

// TransferResult is the provider's acknowledgement of a submitted transfer.
// Status is the provider's own string and is not mapped to TxStatus here.
type TransferResult struct {
	ProviderTxId string
	Status       string
	// Fee is nil when the provider does not report one at submission time.
	Fee *decimal.Decimal
}

// FeeOrZero returns the reported fee or zero.
func (r TransferResult) FeeOrZero() decimal.Decimal {
	if r.Fee == nil {
		return decimal.Zero
	}
	return *r.Fee
}

// TransferStatus is a provider status lookup mapped to the canonical enum.
type TransferStatus struct {
	ProviderTxId string
	RawStatus    string
	Status       TxStatus
	TxHash       string
	Fee          *decimal.Decimal
}

// FeeTiers are network fee levels in human units of the fee asset.
type FeeTiers struct {
	Low    decimal.Decimal
	Medium decimal.Decimal
	High   decimal.Decimal
}

// FeeQuote is what the fee estimator returns to callers.
type FeeQuote struct {
	Asset      string          `json:"asset"`
	Units      string          `json:"units"`
	Low        decimal.Decimal `json:"low"`
	Medium     decimal.Decimal `json:"medium"`
	High       decimal.Decimal `json:"high"`
	EtaSeconds int             `json:"eta_seconds"`
	QuotedAt   time.Time       `json:"quoted_at"`
}

// Package formance mirrors committed ledger writes into a Formance ledger
// as double-entry transactions.
package formance

import (
	"context"
	"fmt"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Mirrored balances start from whatever this system recorded, so user
// sources allow overdraft: the custody provider, not the mirror, enforces funds.

const numscriptInternalTransfer = `vars {
  asset $asset
  number $amount
  account $from_user
  account $to_user
  string $group_id
  string $provider_ref_id
  string $asset_symbol
  string $route
}

send [$asset $amount] (
  source = @users:$from_user allowing unbounded overdraft
  destination = @users:$to_user
)

set_tx_meta("event_type", "internal_transfer")
set_tx_meta("group_id", $group_id)
set_tx_meta("provider_ref_id", $provider_ref_id)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("route", $route)
`

const numscriptOutbound = `vars {
  asset $asset
  number $amount
  account $user_id
  account $provider
  string $provider_ref_id
  string $asset_symbol
  string $tx_type
  string $address_to
}

send [$asset $amount] (
  source = @users:$user_id allowing unbounded overdraft
  destination = @external:$provider:outbound
)

set_tx_meta("event_type", "outbound")
set_tx_meta("provider_ref_id", $provider_ref_id)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("tx_type", $tx_type)
set_tx_meta("address_to", $address_to)
`

const numscriptOutboundWithFee = `vars {
  asset $asset
  number $amount
  asset $fee_asset
  number $fee_amount
  account $user_id
  account $provider
  string $provider_ref_id
  string $asset_symbol
  string $tx_type
  string $address_to
}

send [$asset $amount] (
  source = @users:$user_id allowing unbounded overdraft
  destination = @external:$provider:outbound
)

send [$fee_asset $fee_amount] (
  source = @users:$user_id allowing unbounded overdraft
  destination = @fees:$provider
)

set_tx_meta("event_type", "outbound")
set_tx_meta("provider_ref_id", $provider_ref_id)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("tx_type", $tx_type)
set_tx_meta("address_to", $address_to)
`

const numscriptInbound = `vars {
  asset $asset
  number $amount
  account $user_id
  account $provider
  string $provider_ref_id
  string $asset_symbol
  string $tx_type
}

send [$asset $amount] (
  source = @external:$provider:inbound allowing unbounded overdraft
  destination = @users:$user_id
)

set_tx_meta("event_type", "inbound")
set_tx_meta("provider_ref_id", $provider_ref_id)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("tx_type", $tx_type)
`

// Ledger is the subset of Service the mirror uses.
type Ledger interface {
	PostTransaction(ctx context.Context, tx shared.V2PostTransaction) (bool, error)
	RevertByProviderRef(ctx context.Context, providerRefId string) (int, error)
}

var (
	_ Ledger            = (*Service)(nil)
	_ ledger.Sink       = (*Mirror)(nil)
	_ ledger.StatusSink = (*Mirror)(nil)
)

// Mirror is a ledger.Sink posting each recorded pair or single to Formance.
// The Formance reference is the group id for pairs and the provider
// reference otherwise, so a replayed write is a no-op.
type Mirror struct {
	ledger  Ledger
	catalog *assets.Catalog
}

func NewMirror(l Ledger, catalog *assets.Catalog) *Mirror {
	return &Mirror{ledger: l, catalog: catalog}
}

func (m *Mirror) Name() string { return "formance" }

func userAccount(userId string) string { return "users:" + userId }

func (m *Mirror) Notify(ctx context.Context, rec ledger.Recorded) error {
	tx, ok, err := m.build(rec)
	if err != nil || !ok {
		return err
	}

	posted, err := m.ledger.PostTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("error mirroring %s to Formance: %w", rec.Reference(), err)
	}
	if !posted {
		zap.L().Info("Transaction already mirrored in Formance", zap.String("reference", rec.Reference()))
		return nil
	}
	zap.L().Info("Transaction mirrored in Formance", zap.String("reference", rec.Reference()))
	return nil
}

// StatusChanged reverts mirrored postings of transfers that failed or
// were canceled upstream.
func (m *Mirror) StatusChanged(ctx context.Context, providerRefId string, status models.TxStatus) error {
	if status != models.TxFailed && status != models.TxCanceled {
		return nil
	}
	n, err := m.ledger.RevertByProviderRef(ctx, providerRefId)
	if err != nil {
		return err
	}
	zap.L().Info("Reverted mirrored transactions",
		zap.String("provider_ref_id", providerRefId),
		zap.String("status", string(status)),
		zap.Int("count", n))
	return nil
}

// build translates a recorded write. ok is false for writes the mirror skips.
func (m *Mirror) build(rec ledger.Recorded) (shared.V2PostTransaction, bool, error) {
	if len(rec.Transactions) == 0 {
		return shared.V2PostTransaction{}, false, nil
	}
	first := rec.Transactions[0]
	a, err := m.catalog.Describe(first.Currency)
	if err != nil {
		zap.L().Warn("Skipping Formance mirror for unknown asset",
			zap.String("reference", rec.Reference()),
			zap.String("asset", first.Currency))
		return shared.V2PostTransaction{}, false, nil
	}
	amount, err := m.catalog.ToBaseUnits(a.Symbol, first.Amount)
	if err != nil {
		return shared.V2PostTransaction{}, false, err
	}

	vars := map[string]string{
		"asset":           formanceAsset(a.Symbol, a.Decimals),
		"amount":          amount.String(),
		"provider_ref_id": models.Deref(first.ProviderRefId),
		"asset_symbol":    a.Symbol,
	}
	post := shared.V2PostTransaction{Reference: strPtr(rec.Reference())}

	if rec.Pair {
		out, in := rec.Transactions[0], rec.Transactions[1]
		if out.Type != models.TxInternalOut {
			out, in = in, out
		}
		vars["from_user"] = out.UserId
		vars["to_user"] = in.UserId
		vars["group_id"] = models.Deref(out.GroupId)
		vars["route"], _ = out.Meta["route"].(string)
		post.Script = &shared.V2PostTransactionScript{Plain: numscriptInternalTransfer, Vars: vars}
		return post, true, nil
	}

	vars["user_id"] = first.UserId
	vars["provider"] = first.Provider
	vars["tx_type"] = string(first.Type)

	switch first.Type {
	case models.TxCryptoOut, models.TxFiatOut:
		vars["address_to"] = models.Deref(first.AddressTo)
		script := numscriptOutbound
		if fee, ok, err := m.feeVars(first); err != nil {
			return shared.V2PostTransaction{}, false, err
		} else if ok {
			for k, v := range fee {
				vars[k] = v
			}
			script = numscriptOutboundWithFee
		}
		post.Script = &shared.V2PostTransactionScript{Plain: script, Vars: vars}
	case models.TxCryptoIn, models.TxFiatIn:
		post.Script = &shared.V2PostTransactionScript{Plain: numscriptInbound, Vars: vars}
	default:
		zap.L().Debug("Transaction type not mirrored",
			zap.String("reference", rec.Reference()),
			zap.String("type", string(first.Type)))
		return shared.V2PostTransaction{}, false, nil
	}
	return post, true, nil
}

// feeVars returns the fee posting variables when a positive fee in a
// catalog asset was recorded.
func (m *Mirror) feeVars(t models.Transaction) (map[string]string, bool, error) {
	if !t.FeeAmount.Valid || !t.FeeAmount.Decimal.IsPositive() {
		return nil, false, nil
	}
	feeAsset, err := m.catalog.Describe(models.Deref(t.FeeCurrency))
	if err != nil {
		return nil, false, nil
	}
	units, err := m.catalog.ToBaseUnits(feeAsset.Symbol, t.FeeAmount.Decimal.Truncate(feeAsset.Decimals))
	if err != nil {
		return nil, false, err
	}
	return map[string]string{
		"fee_asset":  formanceAsset(feeAsset.Symbol, feeAsset.Decimals),
		"fee_amount": units.String(),
	}, true, nil
}

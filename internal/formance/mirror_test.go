package formance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	posted   []shared.V2PostTransaction
	refs     map[string]bool
	reverted []string
	err      error
}

func (f *fakeLedger) PostTransaction(ctx context.Context, tx shared.V2PostTransaction) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.refs == nil {
		f.refs = map[string]bool{}
	}
	if f.refs[*tx.Reference] {
		return false, nil
	}
	f.refs[*tx.Reference] = true
	f.posted = append(f.posted, tx)
	return true, nil
}

func (f *fakeLedger) RevertByProviderRef(ctx context.Context, providerRefId string) (int, error) {
	f.reverted = append(f.reverted, providerRefId)
	return 1, nil
}

func str(s string) *string { return &s }

func pair() ledger.Recorded {
	group, ref := "g-1", "fb-1"
	return ledger.Recorded{Pair: true, Transactions: []models.Transaction{
		{UserId: "alice", Type: models.TxInternalOut, Amount: decimal.RequireFromString("1.5"), Currency: "USDT_ERC20",
			GroupId: &group, ProviderRefId: &ref, Provider: "fireblocks", Meta: map[string]any{"route": "internal"}},
		{UserId: "bob", Type: models.TxInternalIn, Amount: decimal.RequireFromString("1.5"), Currency: "USDT_ERC20",
			GroupId: &group, ProviderRefId: &ref, Provider: "fireblocks"},
	}}
}

func TestFormanceAsset(t *testing.T) {
	tests := []struct {
		symbol   string
		decimals int32
		want     string
	}{
		{"BTC", 8, "BTC/8"},
		{"ETH", 18, "ETH/18"},
		{"USDT_ERC20", 6, "USDTERC20/6"},
	}
	for _, tt := range tests {
		if got := formanceAsset(tt.symbol, tt.decimals); got != tt.want {
			t.Errorf("formanceAsset(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestMirrorPair(t *testing.T) {
	fl := &fakeLedger{}
	m := NewMirror(fl, assets.Default())

	if err := m.Notify(context.Background(), pair()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(fl.posted) != 1 {
		t.Fatalf("expected 1 posting, got %d", len(fl.posted))
	}
	tx := fl.posted[0]
	if *tx.Reference != "g-1" {
		t.Errorf("reference = %q, want g-1", *tx.Reference)
	}
	vars := tx.Script.Vars
	if vars["from_user"] != "alice" || vars["to_user"] != "bob" {
		t.Errorf("unexpected accounts: %v", vars)
	}
	if vars["amount"] != "1500000" {
		t.Errorf("amount = %q, want 1500000", vars["amount"])
	}
	if vars["asset"] != "USDTERC20/6" {
		t.Errorf("asset = %q", vars["asset"])
	}
	if vars["route"] != "internal" {
		t.Errorf("route = %q", vars["route"])
	}
	if tx.Script.Plain != numscriptInternalTransfer {
		t.Error("expected the internal transfer script")
	}

	// Replaying the same write is absorbed by the reference.
	if err := m.Notify(context.Background(), pair()); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(fl.posted) != 1 {
		t.Errorf("expected replay to be a no-op, got %d postings", len(fl.posted))
	}
}

func TestMirrorOutboundWithFee(t *testing.T) {
	fl := &fakeLedger{}
	m := NewMirror(fl, assets.Default())

	rec := ledger.Recorded{Transactions: []models.Transaction{{
		UserId: "alice", Type: models.TxCryptoOut, Provider: "fireblocks",
		Amount: decimal.RequireFromString("0.01"), Currency: "BTC",
		FeeAmount: decimal.NewNullDecimal(decimal.RequireFromString("0.000012345")), FeeCurrency: str("BTC"),
		ProviderRefId: str("fb-2"), AddressTo: str("tb1qdest"),
	}}}
	if err := m.Notify(context.Background(), rec); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	tx := fl.posted[0]
	if *tx.Reference != "fb-2" {
		t.Errorf("reference = %q, want fb-2", *tx.Reference)
	}
	if tx.Script.Plain != numscriptOutboundWithFee {
		t.Fatal("expected the outbound script with fee")
	}
	if got := tx.Script.Vars["fee_amount"]; got != "1234" {
		t.Errorf("fee_amount = %q, want 1234 (truncated to 8 decimals)", got)
	}
	if got := tx.Script.Vars["amount"]; got != big.NewInt(1_000_000).String() {
		t.Errorf("amount = %q", got)
	}
}

func TestMirrorOutboundWithoutFeeAndInbound(t *testing.T) {
	fl := &fakeLedger{}
	m := NewMirror(fl, assets.Default())
	ctx := context.Background()

	out := ledger.Recorded{Transactions: []models.Transaction{{
		UserId: "alice", Type: models.TxCryptoOut, Provider: "prime",
		Amount: decimal.NewFromInt(1), Currency: "ETH", ProviderRefId: str("wd-1"),
		FeeAmount: decimal.NewNullDecimal(decimal.Zero), FeeCurrency: str("ETH"),
	}}}
	in := ledger.Recorded{Transactions: []models.Transaction{{
		UserId: "bob", Type: models.TxCryptoIn, Provider: "prime",
		Amount: decimal.NewFromInt(2), Currency: "ETH", ProviderRefId: str("dep-1"),
	}}}
	for _, rec := range []ledger.Recorded{out, in} {
		if err := m.Notify(ctx, rec); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}
	if fl.posted[0].Script.Plain != numscriptOutbound {
		t.Error("zero fee should use the plain outbound script")
	}
	if fl.posted[1].Script.Plain != numscriptInbound {
		t.Error("expected the inbound script")
	}
}

func TestMirrorSkipsUnmirroredWrites(t *testing.T) {
	fl := &fakeLedger{}
	m := NewMirror(fl, assets.Default())

	swap := ledger.Recorded{Transactions: []models.Transaction{{
		UserId: "alice", Type: models.TxSwap, Amount: decimal.NewFromInt(1), Currency: "ETH", ProviderRefId: str("sw-1"),
	}}}
	unknown := ledger.Recorded{Transactions: []models.Transaction{{
		UserId: "alice", Type: models.TxFiatIn, Amount: decimal.NewFromInt(1), Currency: "EUR", ProviderRefId: str("f-1"),
	}}}
	for _, rec := range []ledger.Recorded{swap, unknown, {}} {
		if err := m.Notify(context.Background(), rec); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}
	if len(fl.posted) != 0 {
		t.Errorf("expected nothing posted, got %d", len(fl.posted))
	}
}

func TestMirrorPostError(t *testing.T) {
	fl := &fakeLedger{err: errors.New("stack unreachable")}
	m := NewMirror(fl, assets.Default())
	if err := m.Notify(context.Background(), pair()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestMirrorRevertsFailedTransfers(t *testing.T) {
	fl := &fakeLedger{}
	m := NewMirror(fl, assets.Default())
	ctx := context.Background()

	for _, st := range []models.TxStatus{models.TxConfirmed, models.TxFailed, models.TxCanceled} {
		if err := m.StatusChanged(ctx, "fb-"+string(st), st); err != nil {
			t.Fatalf("StatusChanged failed: %v", err)
		}
	}
	if len(fl.reverted) != 2 || fl.reverted[0] != "fb-failed" || fl.reverted[1] != "fb-canceled" {
		t.Errorf("unexpected reverts: %v", fl.reverted)
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"BTC/8":  {Input: big.NewInt(500), Output: big.NewInt(200)},
		"ETH/18": {Input: big.NewInt(1), Output: big.NewInt(1), Balance: big.NewInt(7)},
	}
	if got := volumeBalance(vols, "BTC/8"); got.Int64() != 300 {
		t.Errorf("BTC balance = %s, want 300", got)
	}
	if got := volumeBalance(vols, "ETH/18"); got.Int64() != 7 {
		t.Errorf("ETH balance = %s, want 7", got)
	}
	if got := volumeBalance(vols, "TRX/6"); got != nil {
		t.Errorf("expected nil for a missing asset, got %s", got)
	}
}

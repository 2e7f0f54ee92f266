package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"custody-wallet-go/internal/database/databasetest"
	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu       sync.Mutex
	recorded []ledger.Recorded
	statuses []models.TxStatus
	err      error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Notify(ctx context.Context, rec ledger.Recorded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, rec)
	return s.err
}

func (s *captureSink) StatusChanged(ctx context.Context, ref string, status models.TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return s.err
}

func pair(ref string) (*models.Transaction, *models.Transaction) {
	amount := decimal.RequireFromString("2")
	out := &models.Transaction{
		UserId: "alice", Provider: models.ProviderFireblocks, Type: models.TxInternalOut, Status: models.TxPending,
		Amount: amount, Currency: "ETH", GroupId: models.Str("g-" + ref), ProviderRefId: models.Str(ref),
		CounterpartyUser: models.Str("bob"),
	}
	in := &models.Transaction{
		UserId: "bob", Provider: models.ProviderFireblocks, Type: models.TxInternalIn, Status: models.TxPending,
		Amount: amount, Currency: "ETH", GroupId: models.Str("g-" + ref), ProviderRefId: models.Str(ref),
		CounterpartyUser: models.Str("alice"),
	}
	return out, in
}

func single(ref string) *models.Transaction {
	return &models.Transaction{
		UserId: "alice", Provider: models.ProviderFireblocks, Type: models.TxCryptoOut, Status: models.TxPending,
		Amount: decimal.RequireFromString("1.5"), Currency: "BTC", ProviderRefId: models.Str(ref),
	}
}

func TestRecordPair_WritesBothLegsAndNotifies(t *testing.T) {
	sink := &captureSink{}
	rec := ledger.NewRecorder(databasetest.New(t), sink)

	out, in := pair("tx-1")
	rows, err := rec.RecordPair(context.Background(), out, in)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.Len(t, sink.recorded, 1)
	assert.True(t, sink.recorded[0].Pair)
	assert.Equal(t, "g-tx-1", sink.recorded[0].Reference())
}

func TestRecordPair_DuplicateProviderRefIsNoop(t *testing.T) {
	sink := &captureSink{}
	db := databasetest.New(t)
	rec := ledger.NewRecorder(db, sink)
	ctx := context.Background()

	out, in := pair("tx-1")
	first, err := rec.RecordPair(ctx, out, in)
	require.NoError(t, err)

	out2, in2 := pair("tx-1")
	second, err := rec.RecordPair(ctx, out2, in2)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{first[0].Id, first[1].Id}, []string{second[0].Id, second[1].Id})
	rows, err := db.FindByProviderRef(ctx, "tx-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Len(t, sink.recorded, 1, "duplicates are not re-published")
}

func TestRecordPair_RejectsMalformedPairs(t *testing.T) {
	rec := ledger.NewRecorder(databasetest.New(t))
	ctx := context.Background()

	cases := map[string]func(out, in *models.Transaction){
		"swapped types":      func(out, in *models.Transaction) { out.Type, in.Type = in.Type, out.Type },
		"different groups":   func(out, in *models.Transaction) { in.GroupId = models.Str("other") },
		"different amounts":  func(out, in *models.Transaction) { in.Amount = decimal.RequireFromString("3") },
		"different currency": func(out, in *models.Transaction) { in.Currency = "BTC" },
		"different refs":     func(out, in *models.Transaction) { in.ProviderRefId = models.Str("tx-x") },
		"wrong counterparty": func(out, in *models.Transaction) { in.CounterpartyUser = models.Str("carol") },
		"zero amount":        func(out, in *models.Transaction) { out.Amount, in.Amount = decimal.Zero, decimal.Zero },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			out, in := pair("tx-" + name)
			mutate(out, in)
			_, err := rec.RecordPair(ctx, out, in)
			assert.Error(t, err)
		})
	}
}

func TestRecordSingle(t *testing.T) {
	rec := ledger.NewRecorder(databasetest.New(t))
	ctx := context.Background()

	rows, err := rec.RecordSingle(ctx, single("tx-9"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxCryptoOut, rows[0].Type)

	again, err := rec.RecordSingle(ctx, single("tx-9"))
	require.NoError(t, err)
	assert.Equal(t, rows[0].Id, again[0].Id)

	out, _ := pair("tx-10")
	_, err = rec.RecordSingle(ctx, out)
	assert.Error(t, err, "internal legs need RecordPair")
}

func TestRecord_SinkFailureDoesNotFailWrite(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	rec := ledger.NewRecorder(databasetest.New(t), sink)

	_, err := rec.RecordSingle(context.Background(), single("tx-1"))
	require.NoError(t, err)
	assert.Len(t, sink.recorded, 1)
}

func TestUpdateStatus(t *testing.T) {
	sink := &captureSink{}
	rec := ledger.NewRecorder(databasetest.New(t), sink)
	ctx := context.Background()

	out, in := pair("tx-1")
	_, err := rec.RecordPair(ctx, out, in)
	require.NoError(t, err)

	require.NoError(t, rec.UpdateStatus(ctx, "tx-1", models.TxConfirmed))
	require.NoError(t, rec.UpdateStatus(ctx, "tx-1", models.TxConfirmed), "same terminal status is a no-op")

	err = rec.UpdateStatus(ctx, "tx-1", models.TxFailed)
	assert.ErrorIs(t, err, store.ErrImmutableTransaction)

	err = rec.UpdateStatus(ctx, "missing", models.TxConfirmed)
	assert.ErrorIs(t, err, store.ErrTransactionNotFound)

	rows, err := rec.FindByProviderRef(ctx, "tx-1")
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, models.TxConfirmed, r.Status)
	}
	assert.Equal(t, []models.TxStatus{models.TxConfirmed}, sink.statuses)
}

func TestReconciliationReplay(t *testing.T) {
	db := databasetest.New(t)
	rec := ledger.NewRecorder(db)
	ctx := context.Background()

	out, in := pair("tx-7")
	out.Meta = map[string]any{"route": "internal"}
	out.BalanceAfter = decimal.NewNullDecimal(decimal.RequireFromString("3"))
	item, err := rec.QueueReconciliation(ctx, []*models.Transaction{out, in}, errors.New("database is locked"))
	require.NoError(t, err)
	assert.Equal(t, models.ReconcilePair, item.Kind)
	assert.Equal(t, "tx-7", item.ProviderRefId)

	open, err := rec.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	rows, err := rec.Replay(ctx, open[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].BalanceAfter.Decimal.Equal(decimal.RequireFromString("3")))

	open, err = rec.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	stored, err := db.FindByProviderRef(ctx, "tx-7")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestReconciliationReplay_BadPayloadStaysOpen(t *testing.T) {
	db := databasetest.New(t)
	rec := ledger.NewRecorder(db)
	ctx := context.Background()

	require.NoError(t, db.RecordReconciliationItem(ctx, &models.ReconciliationItem{
		Kind: models.ReconcilePair, ProviderRefId: "tx-1", Payload: []byte(`[]`),
	}))
	open, err := rec.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = rec.Replay(ctx, open[0])
	require.Error(t, err)

	open, err = rec.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].Attempts)
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return nil
}

func newTestEmitter() (*KafkaEmitter, *memWriter, *memWriter) {
	l, a := &memWriter{}, &memWriter{}
	e := NewEmitter(l, a)
	e.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, l, a
}

func decode(t *testing.T, m kafka.Message) Event {
	t.Helper()
	var ev Event
	require.NoError(t, json.Unmarshal(m.Value, &ev))
	return ev
}

func TestNotifyPairKeyedByGroup(t *testing.T) {
	e, l, a := newTestEmitter()
	group, ref := "g-1", "tx-9"
	rec := ledger.Recorded{Pair: true, Transactions: []models.Transaction{
		{Id: "1", UserId: "alice", Type: models.TxInternalOut, Status: models.TxPending, Amount: decimal.NewFromInt(2), Currency: "ETH", GroupId: &group, ProviderRefId: &ref},
		{Id: "2", UserId: "bob", Type: models.TxInternalIn, Status: models.TxPending, Amount: decimal.NewFromInt(2), Currency: "ETH", GroupId: &group, ProviderRefId: &ref},
	}}

	require.NoError(t, e.Notify(context.Background(), rec))
	require.Len(t, l.msgs, 1)
	assert.Empty(t, a.msgs)

	msg := l.msgs[0]
	assert.Equal(t, "g-1", string(msg.Key))
	ev := decode(t, msg)
	assert.Equal(t, TypeRecorded, ev.Type)
	assert.Equal(t, "tx-9", ev.ProviderRefId)
	require.Len(t, ev.Legs, 2)
	assert.Equal(t, "2", ev.Legs[0].Amount)
	assert.Equal(t, models.TxInternalIn, ev.Legs[1].Type)
	assert.Equal(t, 2025, ev.EmittedAt.Year())
}

func TestStatusAndAlertTopics(t *testing.T) {
	e, l, a := newTestEmitter()
	ctx := context.Background()

	require.NoError(t, e.StatusChanged(ctx, "tx-1", models.TxConfirmed))
	require.NoError(t, e.ReconciliationRequired(ctx, models.ReconciliationItem{
		Id: "r-1", Kind: models.ReconcileSingle, ProviderRefId: "tx-2", Error: "database is locked",
	}))

	require.Len(t, l.msgs, 1)
	assert.Equal(t, models.TxConfirmed, decode(t, l.msgs[0]).Status)

	require.Len(t, a.msgs, 1)
	alert := decode(t, a.msgs[0])
	assert.Equal(t, TypeReconciliationRequired, alert.Type)
	require.NotNil(t, alert.Reconcile)
	assert.Equal(t, "r-1", alert.Reconcile.Id)
	assert.Equal(t, "tx-2", string(a.msgs[0].Key))
}

func TestWriteErrorAndClose(t *testing.T) {
	e, l, a := newTestEmitter()
	l.err = errors.New("broker down")

	err := e.StatusChanged(context.Background(), "tx-1", models.TxFailed)
	assert.ErrorContains(t, err, "broker down")

	require.NoError(t, e.Close())
	assert.True(t, l.closed)
	assert.True(t, a.closed)
	assert.Error(t, e.StatusChanged(context.Background(), "tx-1", models.TxFailed))
	assert.NoError(t, e.Close())
}

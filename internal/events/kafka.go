// Package events publishes ledger activity to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"custody-wallet-go/internal/ledger"
	"custody-wallet-go/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types carried in the "type" field of every message.
const (
	TypeRecorded               = "ledger.recorded"
	TypeStatusChanged          = "ledger.status_changed"
	TypeReconciliationRequired = "ledger.reconciliation_required"
)

// MessageWriter is the subset of *kafka.Writer the emitter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON envelope written to Kafka.
type Event struct {
	Type          string            `json:"type"`
	Reference     string            `json:"reference"`
	ProviderRefId string            `json:"provider_ref_id,omitempty"`
	Status        models.TxStatus   `json:"status,omitempty"`
	Legs          []Leg             `json:"legs,omitempty"`
	Reconcile     *ReconcileDetails `json:"reconciliation,omitempty"`
	EmittedAt     time.Time         `json:"emitted_at"`
}

// Leg is the published view of a ledger row.
type Leg struct {
	Id           string          `json:"id"`
	UserId       string          `json:"user_id"`
	WalletId     string          `json:"wallet_id,omitempty"`
	Type         models.TxType   `json:"type"`
	Status       models.TxStatus `json:"status"`
	Amount       string          `json:"amount"`
	Currency     string          `json:"currency"`
	FeeAmount    string          `json:"fee_amount,omitempty"`
	FeeCurrency  string          `json:"fee_currency,omitempty"`
	GroupId      string          `json:"group_id,omitempty"`
	Counterparty string          `json:"counterparty_user,omitempty"`
	AddressTo    string          `json:"address_to,omitempty"`
}

type ReconcileDetails struct {
	Id             string                    `json:"id"`
	Kind           models.ReconciliationKind `json:"kind"`
	IdempotencyKey string                    `json:"idempotency_key,omitempty"`
	Error          string                    `json:"error"`
}

var (
	_ ledger.Sink       = (*KafkaEmitter)(nil)
	_ ledger.StatusSink = (*KafkaEmitter)(nil)
)

// KafkaEmitter publishes ledger writes and status changes to the ledger
// topic and reconciliation alerts to the alert topic. Messages are keyed
// by reference so every event of a transfer lands on one partition.
type KafkaEmitter struct {
	ledger MessageWriter
	alerts MessageWriter
	now    func() time.Time
	mu     sync.Mutex
}

// NewKafkaEmitter creates an emitter writing to brokers.
func NewKafkaEmitter(brokers []string, ledgerTopic, alertTopic string) *KafkaEmitter {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return NewEmitter(newWriter(ledgerTopic), newWriter(alertTopic))
}

// NewEmitter wraps existing writers.
func NewEmitter(ledger, alerts MessageWriter) *KafkaEmitter {
	return &KafkaEmitter{ledger: ledger, alerts: alerts, now: time.Now}
}

func (k *KafkaEmitter) Name() string { return "kafka" }

// Notify publishes a committed ledger write.
func (k *KafkaEmitter) Notify(ctx context.Context, rec ledger.Recorded) error {
	ev := Event{Type: TypeRecorded, Reference: rec.Reference()}
	for _, t := range rec.Transactions {
		if ev.ProviderRefId == "" {
			ev.ProviderRefId = models.Deref(t.ProviderRefId)
		}
		ev.Legs = append(ev.Legs, toLeg(t))
	}
	return k.emit(ctx, false, ev)
}

// StatusChanged publishes a status transition of a provider transfer.
func (k *KafkaEmitter) StatusChanged(ctx context.Context, providerRefId string, status models.TxStatus) error {
	return k.emit(ctx, false, Event{
		Type:          TypeStatusChanged,
		Reference:     providerRefId,
		ProviderRefId: providerRefId,
		Status:        status,
	})
}

// ReconciliationRequired publishes an alert for a transfer the provider
// accepted but the ledger did not record.
func (k *KafkaEmitter) ReconciliationRequired(ctx context.Context, item models.ReconciliationItem) error {
	return k.emit(ctx, true, Event{
		Type:          TypeReconciliationRequired,
		Reference:     item.ProviderRefId,
		ProviderRefId: item.ProviderRefId,
		Reconcile: &ReconcileDetails{
			Id:             item.Id,
			Kind:           item.Kind,
			IdempotencyKey: item.IdempotencyKey,
			Error:          item.Error,
		},
	})
}

func (k *KafkaEmitter) emit(ctx context.Context, alert bool, ev Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	w := k.ledger
	if alert {
		w = k.alerts
	}
	if w == nil {
		return fmt.Errorf("kafka emitter is closed")
	}
	ev.EmittedAt = k.now().UTC()
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Reference),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	zap.L().Debug("Emitted event to Kafka",
		zap.String("type", ev.Type),
		zap.String("reference", ev.Reference))
	return nil
}

// Close flushes and closes both writers.
func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var first error
	for _, w := range []*MessageWriter{&k.ledger, &k.alerts} {
		if *w == nil {
			continue
		}
		if err := (*w).Close(); err != nil && first == nil {
			first = err
		}
		*w = nil
	}
	return first
}

func toLeg(t models.Transaction) Leg {
	l := Leg{
		Id:           t.Id,
		UserId:       t.UserId,
		WalletId:     models.Deref(t.WalletId),
		Type:         t.Type,
		Status:       t.Status,
		Amount:       t.Amount.String(),
		Currency:     t.Currency,
		FeeCurrency:  models.Deref(t.FeeCurrency),
		GroupId:      models.Deref(t.GroupId),
		Counterparty: models.Deref(t.CounterpartyUser),
		AddressTo:    models.Deref(t.AddressTo),
	}
	if t.FeeAmount.Valid {
		l.FeeAmount = t.FeeAmount.Decimal.String()
	}
	return l
}

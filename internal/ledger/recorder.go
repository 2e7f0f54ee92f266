// Package ledger appends immutable transaction rows and fans committed
// writes out to mirror sinks.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the recorder needs.
type Store interface {
	store.LedgerStore
	store.ReconciliationStore
}

type Recorder struct {
	store Store
	sinks []Sink
}

func NewRecorder(s Store, sinks ...Sink) *Recorder {
	return &Recorder{store: s, sinks: sinks}
}

// RecordPair writes the two legs of an internal transfer atomically. If the
// provider reference is already recorded the stored rows are returned and
// nothing is written.
func (r *Recorder) RecordPair(ctx context.Context, out, in *models.Transaction) ([]models.Transaction, error) {
	if err := validatePair(out, in); err != nil {
		return nil, err
	}
	return r.record(ctx, true, out, in)
}

// RecordSingle writes one row, with the same duplicate handling as RecordPair.
func (r *Recorder) RecordSingle(ctx context.Context, tx *models.Transaction) ([]models.Transaction, error) {
	if tx == nil {
		return nil, errors.New("nil transaction")
	}
	if tx.Type == models.TxInternalIn || tx.Type == models.TxInternalOut {
		return nil, fmt.Errorf("%s rows must be recorded as a pair", tx.Type)
	}
	if !tx.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidAmount, tx.Amount)
	}
	return r.record(ctx, false, tx)
}

func (r *Recorder) record(ctx context.Context, pair bool, txs ...*models.Transaction) ([]models.Transaction, error) {
	ref := models.Deref(txs[0].ProviderRefId)

	if ref != "" {
		existing, err := r.store.FindByProviderRef(ctx, ref)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			zap.L().Info("Provider reference already recorded, skipping write",
				zap.String("provider_ref_id", ref),
				zap.Int("rows", len(existing)))
			return existing, nil
		}
	}

	if err := r.store.InsertTransactions(ctx, txs...); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) && ref != "" {
			zap.L().Info("Concurrent write recorded provider reference first",
				zap.String("provider_ref_id", ref))
			return r.store.FindByProviderRef(ctx, ref)
		}
		return nil, err
	}

	rows := make([]models.Transaction, len(txs))
	for i, t := range txs {
		rows[i] = *t
	}

	zap.L().Info("Ledger entries recorded",
		zap.Bool("pair", pair),
		zap.String("provider_ref_id", ref),
		zap.String("group_id", models.Deref(txs[0].GroupId)),
		zap.String("amount", txs[0].Amount.String()),
		zap.String("asset", txs[0].Currency))

	r.notify(ctx, Recorded{Pair: pair, Transactions: rows})
	return rows, nil
}

func (r *Recorder) notify(ctx context.Context, rec Recorded) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		if err := sink.Notify(ctx, rec); err != nil {
			zap.L().Warn("Ledger sink failed",
				zap.String("sink", sink.Name()),
				zap.String("reference", rec.Reference()),
				zap.Error(err))
		}
	}
}

func validatePair(out, in *models.Transaction) error {
	switch {
	case out == nil || in == nil:
		return errors.New("pair requires two legs")
	case out.Type != models.TxInternalOut || in.Type != models.TxInternalIn:
		return fmt.Errorf("pair legs must be %s and %s, got %s and %s", models.TxInternalOut, models.TxInternalIn, out.Type, in.Type)
	case models.Deref(out.GroupId) == "" || models.Deref(out.GroupId) != models.Deref(in.GroupId):
		return errors.New("pair legs must share a group id")
	case !out.Amount.IsPositive() || !out.Amount.Equal(in.Amount):
		return fmt.Errorf("pair legs must carry the same positive amount, got %s and %s", out.Amount, in.Amount)
	case out.Currency != in.Currency:
		return fmt.Errorf("pair legs must share a currency, got %s and %s", out.Currency, in.Currency)
	case models.Deref(out.ProviderRefId) != models.Deref(in.ProviderRefId):
		return errors.New("pair legs must share a provider reference")
	case models.Deref(out.CounterpartyUser) != in.UserId || models.Deref(in.CounterpartyUser) != out.UserId:
		return errors.New("pair counterparties must point at each other")
	}
	return nil
}

func (r *Recorder) FindByProviderRef(ctx context.Context, providerRefId string) ([]models.Transaction, error) {
	return r.store.FindByProviderRef(ctx, providerRefId)
}

func (r *Recorder) FindByIdempotencyKey(ctx context.Context, key string) ([]models.Transaction, error) {
	return r.store.FindByIdempotencyKey(ctx, key)
}

// Pending lists pending rows created before createdBefore, oldest first.
func (r *Recorder) Pending(ctx context.Context, createdBefore time.Time, after store.PendingCursor, limit int) ([]models.Transaction, error) {
	return r.store.ListPending(ctx, createdBefore, after, limit)
}

func (r *Recorder) History(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	return r.store.History(ctx, userId, limit, offset)
}

// UpdateStatus moves every pending row for the provider reference to status.
// Rows already in a terminal status are immutable; repeating the same
// terminal status is accepted.
func (r *Recorder) UpdateStatus(ctx context.Context, providerRefId string, status models.TxStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	rows, err := r.store.FindByProviderRef(ctx, providerRefId)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: provider_ref_id %s", store.ErrTransactionNotFound, providerRefId)
	}
	if status == models.TxPending {
		return nil
	}

	n, err := r.store.UpdatePendingStatus(ctx, providerRefId, status)
	if err != nil {
		return err
	}
	if n == 0 {
		for _, row := range rows {
			if row.Status != status && row.Status.IsTerminal() {
				return fmt.Errorf("%w: %s is %s", store.ErrImmutableTransaction, providerRefId, row.Status)
			}
		}
		return nil
	}

	for _, sink := range r.sinks {
		if ss, ok := sink.(StatusSink); ok {
			if err := ss.StatusChanged(context.WithoutCancel(ctx), providerRefId, status); err != nil {
				zap.L().Warn("Ledger sink failed on status change",
					zap.String("sink", sink.Name()),
					zap.String("provider_ref_id", providerRefId),
					zap.Error(err))
			}
		}
	}
	return nil
}

// QueueReconciliation persists legs that could not be written after the
// provider accepted the transfer, so they can be replayed later.
func (r *Recorder) QueueReconciliation(ctx context.Context, legs []*models.Transaction, cause error) (*models.ReconciliationItem, error) {
	if len(legs) == 0 {
		return nil, errors.New("no legs to reconcile")
	}
	payload, err := json.Marshal(legs)
	if err != nil {
		return nil, fmt.Errorf("unable to encode legs: %w", err)
	}

	kind := models.ReconcileSingle
	if len(legs) == 2 {
		kind = models.ReconcilePair
	}
	item := &models.ReconciliationItem{
		Id:             uuid.New().String(),
		Kind:           kind,
		ProviderRefId:  models.Deref(legs[0].ProviderRefId),
		IdempotencyKey: models.Deref(legs[0].IdempotencyKey),
		Payload:        payload,
	}
	if cause != nil {
		item.Error = cause.Error()
	}

	if err := r.store.RecordReconciliationItem(context.WithoutCancel(ctx), item); err != nil {
		return nil, err
	}
	return item, nil
}

// Replay writes the legs of a queued reconciliation item and resolves it.
// Writes are keyed by provider reference, so a replay of rows that did land
// resolves without duplicating them.
func (r *Recorder) Replay(ctx context.Context, item models.ReconciliationItem) ([]models.Transaction, error) {
	var legs []*models.Transaction
	if err := json.Unmarshal(item.Payload, &legs); err != nil {
		return nil, fmt.Errorf("unable to decode reconciliation payload %s: %w", item.Id, err)
	}

	var rows []models.Transaction
	var err error
	switch {
	case item.Kind == models.ReconcilePair && len(legs) == 2:
		rows, err = r.RecordPair(ctx, legs[0], legs[1])
	case item.Kind == models.ReconcileSingle && len(legs) == 1:
		rows, err = r.RecordSingle(ctx, legs[0])
	default:
		err = fmt.Errorf("reconciliation item %s has kind %s with %d legs", item.Id, item.Kind, len(legs))
	}

	if err != nil {
		if markErr := r.store.MarkReconciliationAttempt(ctx, item.Id, err.Error()); markErr != nil {
			zap.L().Warn("Failed to mark reconciliation attempt", zap.String("id", item.Id), zap.Error(markErr))
		}
		return nil, err
	}

	if err := r.store.ResolveReconciliationItem(ctx, item.Id); err != nil {
		return rows, err
	}
	zap.L().Info("Reconciliation item resolved",
		zap.String("id", item.Id),
		zap.String("provider_ref_id", item.ProviderRefId))
	return rows, nil
}

// OpenReconciliations lists unresolved reconciliation items, oldest first.
func (r *Recorder) OpenReconciliations(ctx context.Context, limit int) ([]models.ReconciliationItem, error) {
	return r.store.ListOpenReconciliationItems(ctx, limit)
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InsertTransactions writes every row in a single database transaction.
// Either all rows land or none do.
func (s *Service) InsertTransactions(ctx context.Context, txs ...*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := s.now()
	for _, t := range txs {
		if !t.Type.Valid() {
			return fmt.Errorf("invalid transaction type %q", t.Type)
		}
		if !t.Status.Valid() {
			return fmt.Errorf("invalid transaction status %q", t.Status)
		}
		if t.Id == "" {
			t.Id = uuid.New().String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		// Pending pages compare created_at as text, so it is always stored in UTC.
		t.CreatedAt = t.CreatedAt.UTC()
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, queryInsertTransaction)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() {
			if err := stmt.Close(); err != nil {
				zap.L().Warn("Failed to close statement", zap.Error(err))
			}
		}()

		for _, t := range txs {
			args, err := transactionArgs(t)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: provider_ref_id %s type %s", store.ErrDuplicateTransaction, models.Deref(t.ProviderRefId), t.Type)
				}
				return fmt.Errorf("unable to insert transaction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	zap.L().Debug("Transactions inserted",
		zap.Int("count", len(txs)),
		zap.String("provider_ref_id", models.Deref(txs[0].ProviderRefId)),
		zap.String("group_id", models.Deref(txs[0].GroupId)))
	return nil
}

func transactionArgs(t *models.Transaction) ([]any, error) {
	var meta any
	if len(t.Meta) > 0 {
		b, err := json.Marshal(t.Meta)
		if err != nil {
			return nil, fmt.Errorf("unable to encode transaction meta: %w", err)
		}
		meta = string(b)
	}

	return []any{
		t.Id, t.UserId, t.WalletId, t.Provider, string(t.Type), string(t.Status),
		t.Amount.String(), t.Currency, t.FeeAmount, t.FeeCurrency, t.BalanceAfter, t.Description,
		t.GroupId, t.IdempotencyKey, t.ProviderRefId,
		t.Chain, t.TxHash, t.AddressFrom, t.AddressTo, t.CounterpartyUser,
		t.IbanFrom, t.IbanTo, t.PaymentMethod, t.MerchantName, t.CardLast4,
		t.OriginalAmount, t.OriginalCurrency, t.FxRate, t.PayAmount, t.PayCurrency, t.ReceiveAmount, t.ReceiveCurrency,
		meta, t.CreatedAt, t.UpdatedAt,
	}, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var txType, status string
	var meta sql.NullString

	err := row.Scan(
		&t.Id, &t.UserId, &t.WalletId, &t.Provider, &txType, &status,
		&t.Amount, &t.Currency, &t.FeeAmount, &t.FeeCurrency, &t.BalanceAfter, &t.Description,
		&t.GroupId, &t.IdempotencyKey, &t.ProviderRefId,
		&t.Chain, &t.TxHash, &t.AddressFrom, &t.AddressTo, &t.CounterpartyUser,
		&t.IbanFrom, &t.IbanTo, &t.PaymentMethod, &t.MerchantName, &t.CardLast4,
		&t.OriginalAmount, &t.OriginalCurrency, &t.FxRate, &t.PayAmount, &t.PayCurrency, &t.ReceiveAmount, &t.ReceiveCurrency,
		&meta, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = models.TxType(txType)
	t.Status = models.TxStatus(status)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &t.Meta); err != nil {
			return nil, fmt.Errorf("unable to decode transaction meta: %w", err)
		}
	}
	return &t, nil
}

func (s *Service) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query transactions: %w", err)
	}
	defer closeRows(rows)

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			zap.L().Error("Failed to scan transaction row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan transaction row: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return txs, nil
}

func (s *Service) FindByProviderRef(ctx context.Context, providerRefId string) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, queryFindByProviderRef, providerRefId)
}

func (s *Service) FindByIdempotencyKey(ctx context.Context, key string) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, queryFindByIdempotencyKey, key)
}

func (s *Service) FindByGroupId(ctx context.Context, groupId string) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, queryFindByGroupId, groupId)
}

func (s *Service) UpdatePendingStatus(ctx context.Context, providerRefId string, status models.TxStatus) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid transaction status %q", status)
	}

	result, err := s.db.ExecContext(ctx, queryUpdatePendingStatus, string(status), s.now(), providerRefId)
	if err != nil {
		return 0, fmt.Errorf("unable to update transaction status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unable to get rows affected: %w", err)
	}

	if n > 0 {
		zap.L().Info("Transaction status updated",
			zap.String("provider_ref_id", providerRefId),
			zap.String("status", string(status)),
			zap.Int64("rows", n))
	}
	return n, nil
}

func (s *Service) ListPending(ctx context.Context, createdBefore time.Time, after store.PendingCursor, limit int) ([]models.Transaction, error) {
	afterAt := after.CreatedAt.UTC()
	return s.queryTransactions(ctx, queryListPending, createdBefore.UTC(), afterAt, afterAt, after.Id, limit)
}

func (s *Service) History(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryTransactions(ctx, queryHistory, userId, limit, offset)
}

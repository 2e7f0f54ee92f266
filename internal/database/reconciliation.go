package database

import (
	"context"
	"database/sql"
	"fmt"

	"custody-wallet-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) RecordReconciliationItem(ctx context.Context, item *models.ReconciliationItem) error {
	if item.Id == "" {
		item.Id = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, queryInsertReconciliationItem,
		item.Id, string(item.Kind), item.ProviderRefId, nullString(item.IdempotencyKey),
		item.Payload, nullString(item.Error), item.CreatedAt)
	if err != nil {
		return fmt.Errorf("unable to insert reconciliation item: %w", err)
	}

	zap.L().Warn("Reconciliation item recorded",
		zap.String("id", item.Id),
		zap.String("kind", string(item.Kind)),
		zap.String("provider_ref_id", item.ProviderRefId))
	return nil
}

func (s *Service) ListOpenReconciliationItems(ctx context.Context, limit int) ([]models.ReconciliationItem, error) {
	rows, err := s.db.QueryContext(ctx, queryListOpenReconciliationItems, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to query reconciliation items: %w", err)
	}
	defer closeRows(rows)

	var items []models.ReconciliationItem
	for rows.Next() {
		var item models.ReconciliationItem
		var kind string
		var key, lastErr sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&item.Id, &kind, &item.ProviderRefId, &key, &item.Payload,
			&lastErr, &item.Attempts, &item.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("unable to scan reconciliation row: %w", err)
		}
		item.Kind = models.ReconciliationKind(kind)
		item.IdempotencyKey = key.String
		item.Error = lastErr.String
		if resolvedAt.Valid {
			item.ResolvedAt = &resolvedAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation rows: %w", err)
	}
	return items, nil
}

func (s *Service) MarkReconciliationAttempt(ctx context.Context, id, lastError string) error {
	if _, err := s.db.ExecContext(ctx, queryMarkReconciliationAttempt, nullString(lastError), id); err != nil {
		return fmt.Errorf("unable to update reconciliation item: %w", err)
	}
	return nil
}

func (s *Service) ResolveReconciliationItem(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, queryResolveReconciliationItem, s.now(), id); err != nil {
		return fmt.Errorf("unable to resolve reconciliation item: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

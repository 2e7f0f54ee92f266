package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) GetVaultByUser(ctx context.Context, userId string) (*models.Vault, error) {
	return getVaultByUser(ctx, s.db, userId)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getVaultByUser(ctx context.Context, q queryRower, userId string) (*models.Vault, error) {
	var v models.Vault
	err := q.QueryRowContext(ctx, queryGetVaultByUser, userId).Scan(&v.Id, &v.VaultId, &v.UserId, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user_id %s", store.ErrVaultNotFound, userId)
		}
		return nil, fmt.Errorf("unable to query vault: %w", err)
	}
	return &v, nil
}

func (s *Service) ClaimVaultCreation(ctx context.Context, userId, token string, now, staleBefore time.Time) (*models.Vault, error) {
	var existing *models.Vault
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		v, err := getVaultByUser(ctx, tx, userId)
		if err == nil {
			existing = v
			return nil
		}
		if !errors.Is(err, store.ErrVaultNotFound) {
			return err
		}

		if _, err := getUserTx(ctx, tx, userId); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, queryUpsertVaultClaim, userId, token, now.UTC(), staleBefore.UTC())
		if err != nil {
			return fmt.Errorf("unable to claim vault creation: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("unable to get rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrClaimHeld
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if existing == nil {
		zap.L().Debug("Vault creation claimed", zap.String("user_id", userId))
	}
	return existing, nil
}

func getUserTx(ctx context.Context, tx *sql.Tx, userId string) (*models.User, error) {
	user, err := scanUser(tx.QueryRowContext(ctx, queryGetUserById, userId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user_id %s", store.ErrUserNotFound, userId)
		}
		return nil, fmt.Errorf("unable to query user: %w", err)
	}
	return user, nil
}

func (s *Service) ReleaseVaultClaim(ctx context.Context, userId, token string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteVaultClaim, userId, token); err != nil {
		return fmt.Errorf("unable to release vault claim: %w", err)
	}
	return nil
}

// InsertVault records the vault and flips has_vault in the same transaction,
// so the flag is never observed without its row.
func (s *Service) InsertVault(ctx context.Context, userId, providerVaultId string) (*models.Vault, error) {
	vault := &models.Vault{
		Id:        uuid.New().String(),
		VaultId:   providerVaultId,
		UserId:    userId,
		CreatedAt: s.now(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryInsertVault, vault.Id, vault.VaultId, vault.UserId, vault.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: vault for user %s", store.ErrConflict, userId)
			}
			return fmt.Errorf("unable to insert vault: %w", err)
		}

		result, err := tx.ExecContext(ctx, querySetHasVault, vault.CreatedAt, userId)
		if err != nil {
			return fmt.Errorf("unable to set has_vault: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("unable to get rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: user_id %s", store.ErrUserNotFound, userId)
		}

		if _, err := tx.ExecContext(ctx, queryClearVaultClaim, userId); err != nil {
			return fmt.Errorf("unable to clear vault claim: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Vault recorded",
		zap.String("user_id", userId),
		zap.String("vault_id", providerVaultId))
	return vault, nil
}

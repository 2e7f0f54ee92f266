package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.Id, &w.UserId, &w.VaultId, &w.Address, &w.Currency, &w.Network, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Service) getWallet(ctx context.Context, query string, args ...any) (*models.Wallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWalletNotFound
		}
		return nil, fmt.Errorf("unable to query wallet: %w", err)
	}
	return w, nil
}

func (s *Service) GetWallet(ctx context.Context, userId, currency, network string) (*models.Wallet, error) {
	w, err := s.getWallet(ctx, queryGetWallet, userId, currency, network)
	if errors.Is(err, store.ErrWalletNotFound) {
		return nil, fmt.Errorf("%w: user %s %s on %s", store.ErrWalletNotFound, userId, currency, network)
	}
	return w, err
}

func (s *Service) GetWalletById(ctx context.Context, walletId string) (*models.Wallet, error) {
	return s.getWallet(ctx, queryGetWalletById, walletId)
}

// FindWalletByAddress returns the internal wallet holding address, if any.
func (s *Service) FindWalletByAddress(ctx context.Context, currency, network, address string) (*models.Wallet, error) {
	return s.getWallet(ctx, queryFindWalletByAddress, currency, network, address)
}

func (s *Service) InsertWallet(ctx context.Context, params store.InsertWalletParams) (*models.Wallet, error) {
	now := s.now()
	wallet := &models.Wallet{
		Id:        uuid.New().String(),
		UserId:    params.UserId,
		VaultId:   params.VaultId,
		Address:   params.Address,
		Currency:  params.Currency,
		Network:   params.Network,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, queryInsertWallet,
		wallet.Id, wallet.UserId, wallet.VaultId, wallet.Address, wallet.Currency, wallet.Network, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: wallet for user %s %s on %s", store.ErrConflict, params.UserId, params.Currency, params.Network)
		}
		zap.L().Error("Failed to insert wallet",
			zap.String("user_id", params.UserId),
			zap.String("currency", params.Currency),
			zap.Error(err))
		return nil, fmt.Errorf("unable to insert wallet: %w", err)
	}

	zap.L().Info("Wallet recorded",
		zap.String("user_id", params.UserId),
		zap.String("currency", params.Currency),
		zap.String("network", params.Network),
		zap.String("address", params.Address))
	return wallet, nil
}

func (s *Service) UpdateWalletAddress(ctx context.Context, walletId, address string) error {
	result, err := s.db.ExecContext(ctx, queryUpdateWalletAddress, address, s.now(), walletId)
	if err != nil {
		return fmt.Errorf("unable to update wallet address: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: wallet %s", store.ErrWalletNotFound, walletId)
	}
	return nil
}

func (s *Service) ListWallets(ctx context.Context, userId string) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, queryListWallets, userId)
	if err != nil {
		return nil, fmt.Errorf("unable to query wallets: %w", err)
	}
	defer closeRows(rows)

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan wallet row: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}
	return wallets, nil
}

/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"

	"go.uber.org/zap"
)

const (
	privacyIdAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	privacyIdLength   = 10
	privacyIdAttempts = 5
)

// NewPrivacyId returns a random public identifier of uppercase letters and digits.
func NewPrivacyId() (string, error) {
	max := big.NewInt(int64(len(privacyIdAlphabet)))
	buf := make([]byte, privacyIdLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = privacyIdAlphabet[n.Int64()]
	}
	return string(buf), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var username sql.NullString
	err := row.Scan(&user.Id, &user.Name, &user.Email, &username, &user.PrivacyId,
		&user.EmailVerified, &user.HasVault, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if username.Valid {
		user.Username = &username.String
	}
	return &user, nil
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying users")

	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) getUser(ctx context.Context, query, field, value string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", store.ErrUserNotFound, field, value)
		}
		zap.L().Error("Failed to query user", zap.String(field, value), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by %s: %w", field, err)
	}
	return user, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserById, "user_id", userId)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByEmail, "email", email)
}

func (s *Service) GetUserByPrivacyId(ctx context.Context, privacyId string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByPrivacyId, "privacy_id", privacyId)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByUsername, "username", username)
}

// CreateUser inserts a user with a freshly generated privacy id. A privacy id
// collision is retried; an email or username collision is ErrConflict.
func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	zap.L().Info("Creating user", zap.String("id", params.Id), zap.String("email", params.Email))

	var username any
	if params.Username != "" {
		username = params.Username
	}

	for attempt := 1; attempt <= privacyIdAttempts; attempt++ {
		privacyId, err := NewPrivacyId()
		if err != nil {
			return nil, fmt.Errorf("unable to generate privacy id: %w", err)
		}

		now := s.now()
		_, err = s.db.ExecContext(ctx, queryInsertUser,
			params.Id, params.Name, params.Email, username, privacyId, params.EmailVerified, now, now)
		if err == nil {
			zap.L().Info("User created successfully",
				zap.String("id", params.Id),
				zap.String("privacy_id", privacyId))
			return s.GetUserById(ctx, params.Id)
		}
		if !isUniqueViolation(err) {
			zap.L().Error("Failed to insert user", zap.String("email", params.Email), zap.Error(err))
			return nil, fmt.Errorf("unable to insert user: %w", err)
		}

		// Distinguish a privacy id collision from a duplicate email or username.
		if _, lookupErr := s.GetUserByPrivacyId(ctx, privacyId); lookupErr == nil {
			zap.L().Debug("Privacy id collision, retrying", zap.Int("attempt", attempt))
			continue
		}
		return nil, fmt.Errorf("%w: user with email %s or username already exists", store.ErrConflict, params.Email)
	}

	return nil, fmt.Errorf("unable to allocate a unique privacy id after %d attempts", privacyIdAttempts)
}

func (s *Service) SetEmailVerified(ctx context.Context, userId string, verified bool) error {
	result, err := s.db.ExecContext(ctx, queryUpdateEmailVerified, verified, s.now(), userId)
	if err != nil {
		return fmt.Errorf("unable to update email verification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user_id %s", store.ErrUserNotFound, userId)
	}
	return nil
}

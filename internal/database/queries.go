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

const (
	// User queries
	userColumns = `id, name, email, username, privacy_id, email_verified, has_vault, created_at, updated_at`

	queryGetUsers = `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at`

	queryInsertUser = `
		INSERT INTO users (id, name, email, username, privacy_id, email_verified, has_vault, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`

	queryGetUserById = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = ?`

	queryGetUserByEmail = `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = ?`

	queryGetUserByPrivacyId = `
		SELECT ` + userColumns + `
		FROM users
		WHERE privacy_id = ?`

	queryGetUserByUsername = `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = ?`

	queryUpdateEmailVerified = `
		UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?`

	querySetHasVault = `
		UPDATE users SET has_vault = 1, updated_at = ? WHERE id = ?`

	// Vault queries
	queryGetVaultByUser = `
		SELECT id, vault_id, user_id, created_at
		FROM vaults
		WHERE user_id = ?`

	queryInsertVault = `
		INSERT INTO vaults (id, vault_id, user_id, created_at)
		VALUES (?, ?, ?, ?)`

	queryUpsertVaultClaim = `
		INSERT INTO vault_claims (user_id, token, claimed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET token = excluded.token, claimed_at = excluded.claimed_at
		WHERE vault_claims.claimed_at < ?`

	queryDeleteVaultClaim = `
		DELETE FROM vault_claims WHERE user_id = ? AND token = ?`

	queryClearVaultClaim = `
		DELETE FROM vault_claims WHERE user_id = ?`

	// Wallet queries
	walletColumns = `id, user_id, vault_id, address, currency, network, created_at, updated_at`

	queryGetWallet = `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = ? AND currency = ? AND network = ?`

	queryGetWalletById = `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE id = ?`

	queryFindWalletByAddress = `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE currency = ? AND network = ? AND address = ?`

	queryInsertWallet = `
		INSERT INTO wallets (id, user_id, vault_id, address, currency, network, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateWalletAddress = `
		UPDATE wallets SET address = ?, updated_at = ? WHERE id = ?`

	queryListWallets = `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = ?
		ORDER BY currency`

	// Transaction queries
	transactionColumns = `id, user_id, wallet_id, provider, type, status,
		amount, currency, fee_amount, fee_currency, balance_after, description,
		group_id, idempotency_key, provider_ref_id,
		chain, tx_hash, address_from, address_to, counterparty_user,
		iban_from, iban_to, payment_method, merchant_name, card_last4,
		original_amount, original_currency, fx_rate, pay_amount, pay_currency, receive_amount, receive_currency,
		meta, created_at, updated_at`

	queryInsertTransaction = `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryFindByProviderRef = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider_ref_id = ?
		ORDER BY created_at, type DESC`

	queryFindByIdempotencyKey = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE idempotency_key = ?
		ORDER BY created_at, type DESC`

	queryFindByGroupId = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE group_id = ?
		ORDER BY created_at, type DESC`

	queryUpdatePendingStatus = `
		UPDATE transactions SET status = ?, updated_at = ?
		WHERE provider_ref_id = ? AND status = 'pending'`

	queryListPending = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND provider_ref_id IS NOT NULL AND created_at < ?
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at, id
		LIMIT ?`

	queryHistory = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	// Reconciliation queries
	queryInsertReconciliationItem = `
		INSERT INTO reconciliation_items (id, kind, provider_ref_id, idempotency_key, payload, error, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`

	queryListOpenReconciliationItems = `
		SELECT id, kind, provider_ref_id, idempotency_key, payload, error, attempts, created_at, resolved_at
		FROM reconciliation_items
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT ?`

	queryMarkReconciliationAttempt = `
		UPDATE reconciliation_items SET attempts = attempts + 1, error = ? WHERE id = ?`

	queryResolveReconciliationItem = `
		UPDATE reconciliation_items SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`
)

// Package databasetest opens throwaway sqlite stores for package tests.
package databasetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"custody-wallet-go/internal/database"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/store"
)

// New opens a file-backed store in t.TempDir. A file is used rather than
// :memory: so that every pooled connection sees the same database.
func New(t testing.TB) *database.Service {
	t.Helper()

	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "custody.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// User creates a verified user with the given id and an optional username.
func User(t testing.TB, svc *database.Service, id, username string) *models.User {
	t.Helper()

	user, err := svc.CreateUser(context.Background(), store.CreateUserParams{
		Id:            id,
		Name:          "User " + id,
		Email:         id + "@example.com",
		Username:      username,
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", id, err)
	}
	return user
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/auth/postgres"
)

func createUser(ctx context.Context, t *testing.T, email string, active bool) *auth.User {
	t.Helper()
	user, err := auth.NewUser(email, strings.Repeat("0", 192), active)
	require.NoError(t, err)
	require.NoError(t, postgres.NewUserRepository(testPool).Create(ctx, user))
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	})
	return user
}

func TestUserRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewUserRepository(testPool)

	user := createUser(ctx, t, "integration@example.com", true)
	assert.Positive(t, user.ID)

	got, err := repo.GetByEmail(ctx, "integration@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, time.UTC, got.DateCreated.Location())

	dup, err := auth.NewUser("integration@example.com", "x", true)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), auth.ErrDuplicateEmail)

	require.NoError(t, repo.SetActive(ctx, user.ID, false))
	got, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestAttemptRepository_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAttemptRepository(testPool)
	const ip, workers = "203.0.113.77", 25
	t.Cleanup(func() { _ = repo.Delete(ctx, ip) })

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Increment(ctx, ip, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := repo.Get(ctx, ip)
	require.NoError(t, err)
	assert.Equal(t, workers, rec.AttemptCount)

	require.NoError(t, repo.Delete(ctx, ip))
	_, err = repo.Get(ctx, ip)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSessionRepository_KeyUniquenessIsEnforced(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewSessionRepository(testPool)
	alice := createUser(ctx, t, "alice-session@example.com", true)
	bob := createUser(ctx, t, "bob-session@example.com", true)
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := strings.Repeat("Z", auth.SessionKeyLength)
	require.NoError(t, repo.Insert(ctx, &auth.Session{Key: key, UserID: alice.ID, CreatedAt: now, LastAccessed: now}))

	err := repo.Insert(ctx, &auth.Session{Key: key, UserID: bob.ID, CreatedAt: now, LastAccessed: now})
	assert.ErrorIs(t, err, auth.ErrDuplicateSessionKey)

	_, err = repo.GetByUserAndKey(ctx, bob.ID, key)
	assert.ErrorIs(t, err, auth.ErrNotFound, "key must match its owner")

	got, err := repo.GetByUserAndKey(ctx, alice.ID, key)
	require.NoError(t, err)
	assert.Empty(t, got.IPAddress, "null ip reads back empty")
	assert.True(t, now.Equal(got.CreatedAt))
}

func TestSessionStore_ConcurrentCreatesYieldDistinctKeys(t *testing.T) {
	ctx := context.Background()
	sessions, err := auth.NewSessionStore(postgres.NewSessionRepository(testPool), auth.SessionStoreConfig{})
	require.NoError(t, err)

	const n = 20
	users := make([]*auth.User, n)
	for i := range users {
		users[i] = createUser(ctx, t, fmt.Sprintf("concurrent%02d@example.com", i), true)
	}

	keys := make(chan string, n)
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := sessions.Create(ctx, u.ID, "10.0.0.1", "test")
			if assert.NoError(t, err) {
				keys <- s.Key
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := map[string]bool{}
	for k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, n)

	var stored int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(DISTINCT session_key) FROM sessions`).Scan(&stored))
	assert.GreaterOrEqual(t, stored, n)
}

func TestUserService_DeactivateIsAtomic(t *testing.T) {
	ctx := context.Background()
	users := postgres.NewUserRepository(testPool)
	sessions, err := auth.NewSessionStore(postgres.NewSessionRepository(testPool), auth.SessionStoreConfig{})
	require.NoError(t, err)
	svc, err := auth.NewUserService(users, sessions, auth.NewPBKDF2Hasher(), postgres.NewTransactor(testPool))
	require.NoError(t, err)

	user := createUser(ctx, t, "deactivate@example.com", true)
	for range 2 {
		_, err := sessions.Create(ctx, user.ID, "", "")
		require.NoError(t, err)
	}

	dropped, err := svc.Deactivate(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dropped)

	got, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestUserDelete_CascadesToSessions(t *testing.T) {
	ctx := context.Background()
	users := postgres.NewUserRepository(testPool)
	sessions := postgres.NewSessionRepository(testPool)
	user := createUser(ctx, t, "cascade@example.com", true)
	now := time.Now().UTC()

	key := strings.Repeat("c", auth.SessionKeyLength)
	require.NoError(t, sessions.Insert(ctx, &auth.Session{Key: key, UserID: user.ID, CreatedAt: now, LastAccessed: now}))
	require.NoError(t, users.Delete(ctx, user.ID))

	_, err := sessions.GetByUserAndKey(ctx, user.ID, key)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSessionRepository_DeleteIdleBefore(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewSessionRepository(testPool)
	user := createUser(ctx, t, "idle-prune@example.com", true)
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)

	require.NoError(t, repo.Insert(ctx, &auth.Session{Key: strings.Repeat("o", 32), UserID: user.ID, CreatedAt: old, LastAccessed: old}))
	require.NoError(t, repo.Insert(ctx, &auth.Session{Key: strings.Repeat("n", 32), UserID: user.ID, CreatedAt: now, LastAccessed: now}))

	n, err := repo.DeleteIdleBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = repo.GetByUserAndKey(ctx, user.ID, strings.Repeat("n", 32))
	require.NoError(t, err)
}

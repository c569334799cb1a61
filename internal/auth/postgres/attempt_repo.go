// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/shavon/internal/auth"
)

// AttemptRepository implements auth.AttemptRepository.
type AttemptRepository struct {
	db DB
}

// NewAttemptRepository creates an AttemptRepository.
func NewAttemptRepository(db DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Get returns the counter row for ip.
func (r *AttemptRepository) Get(ctx context.Context, ip string) (*auth.LoginAttempt, error) {
	var a auth.LoginAttempt
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT ip_address, attempt_count, last_attempt
		FROM login_attempts
		WHERE ip_address = $1
	`, ip).Scan(&a.IPAddress, &a.AttemptCount, &a.LastAttempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("LOGIN_ATTEMPT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("LOGIN_ATTEMPT_GET_FAILED", "get login attempt", err)
	}
	a.LastAttempt = a.LastAttempt.UTC()
	return &a, nil
}

// Increment creates the row with a count of one, or bumps an existing row,
// in a single statement so concurrent attempts are never lost.
func (r *AttemptRepository) Increment(ctx context.Context, ip string, at time.Time) (*auth.LoginAttempt, error) {
	at, err := auth.ToUTC(at)
	if err != nil {
		return nil, err
	}

	var a auth.LoginAttempt
	err = conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO login_attempts (ip_address, attempt_count, last_attempt)
		VALUES ($1, 1, $2)
		ON CONFLICT (ip_address) DO UPDATE
		SET attempt_count = login_attempts.attempt_count + 1,
		    last_attempt = EXCLUDED.last_attempt
		RETURNING ip_address, attempt_count, last_attempt
	`, ip, at).Scan(&a.IPAddress, &a.AttemptCount, &a.LastAttempt)
	if err != nil {
		return nil, storeErr("LOGIN_ATTEMPT_INCREMENT_FAILED", "increment login attempt", err)
	}
	a.LastAttempt = a.LastAttempt.UTC()
	return &a, nil
}

// Delete removes the row for ip. A missing row is fine.
func (r *AttemptRepository) Delete(ctx context.Context, ip string) error {
	if _, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM login_attempts WHERE ip_address = $1`, ip); err != nil {
		return storeErr("LOGIN_ATTEMPT_DELETE_FAILED", "delete login attempt", err)
	}
	return nil
}

var _ auth.AttemptRepository = (*AttemptRepository)(nil)

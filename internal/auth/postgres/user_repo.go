// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/shavon/internal/auth"
)

const userColumns = `id, email, password, is_active, date_created`

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts user and fills in ID and DateCreated from the database.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	created, err := auth.ToUTC(user.DateCreated)
	if err != nil {
		return err
	}

	err = conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO users (email, password, is_active, date_created)
		VALUES ($1, $2, $3, $4)
		RETURNING id, date_created
	`, user.Email, user.PasswordHash, user.IsActive, created).Scan(&user.ID, &user.DateCreated)
	if isUniqueViolation(err, "users_email_key") {
		return oops.Code("USER_EMAIL_EXISTS").With("email", user.SafeEmail()).Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return storeErr("USER_CREATE_FAILED", "insert user", err)
	}
	user.DateCreated = user.DateCreated.UTC()
	return nil
}

// GetByID returns the user with id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("USER_GET_FAILED", "get user by id", err)
	}
	return user, nil
}

// GetByEmail returns the user with email, which must already be normalized.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("USER_GET_FAILED", "get user by email", err)
	}
	return user, nil
}

// SetActive updates is_active.
func (r *UserRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return storeErr("USER_UPDATE_FAILED", "set user active", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes the user. Sessions cascade.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return storeErr("USER_DELETE_FAILED", "delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.DateCreated); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap
	}
	u.DateCreated = u.DateCreated.UTC()
	return &u, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)

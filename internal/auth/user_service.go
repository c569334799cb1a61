// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// Transactor runs fn inside a single store transaction. Repository calls made
// with the context passed to fn join that transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserService handles account administration.
type UserService struct {
	users    UserRepository
	sessions *SessionStore
	hasher   PasswordHasher
	tx       Transactor
	opts     options
}

// NewUserService creates a UserService.
func NewUserService(users UserRepository, sessions *SessionStore, hasher PasswordHasher, tx Transactor, opts ...Option) (*UserService, error) {
	switch {
	case users == nil:
		return nil, oops.Code("USER_SERVICE_INVALID_DEPS").Errorf("users repository is required")
	case sessions == nil:
		return nil, oops.Code("USER_SERVICE_INVALID_DEPS").Errorf("session store is required")
	case hasher == nil:
		return nil, oops.Code("USER_SERVICE_INVALID_DEPS").Errorf("password hasher is required")
	case tx == nil:
		return nil, oops.Code("USER_SERVICE_INVALID_DEPS").Errorf("transactor is required")
	}
	return &UserService{users: users, sessions: sessions, hasher: hasher, tx: tx, opts: newOptions(opts)}, nil
}

// Create hashes password and stores a new user. The email is validated
// before the password is derived.
func (s *UserService) Create(ctx context.Context, email, password string, active bool) (*User, error) {
	if err := ValidateEmail(NormalizeEmail(email)); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").With("email", MaskEmail(email)).Wrap(err)
	}

	user, err := NewUser(email, hash, active)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		return nil, oops.Code("USER_CREATE_FAILED").With("email", user.SafeEmail()).Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "user created",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.SafeEmail()),
		slog.Bool("active", active))
	return user, nil
}

// Get returns the user with id.
func (s *UserService) Get(ctx context.Context, id int64) (*User, error) {
	user, err := retryRead(ctx, func(ctx context.Context) (*User, error) {
		return s.users.GetByID(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
	}
	return user, nil
}

// Activate allows the user to log in.
func (s *UserService) Activate(ctx context.Context, id int64) error {
	if err := s.users.SetActive(ctx, id, true); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return oops.Code("USER_ACTIVATE_FAILED").With("user_id", id).Wrap(err)
	}
	return nil
}

// Deactivate blocks the user and drops every open session in the same
// transaction, so no session of a deactivated user survives a crash between
// the two writes.
func (s *UserService) Deactivate(ctx context.Context, id int64) (int64, error) {
	var dropped int64
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.SetActive(ctx, id, false); err != nil {
			return err
		}
		n, err := s.sessions.DeleteForUser(ctx, id)
		if err != nil {
			return err
		}
		dropped = n
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, oops.Code("USER_DEACTIVATE_FAILED").With("user_id", id).Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "user deactivated", slog.Int64("user_id", id), slog.Int64("sessions_dropped", dropped))
	return dropped, nil
}

// Delete removes the user. The store cascades the delete to sessions.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
	}
	s.opts.logger.InfoContext(ctx, "user deleted", slog.Int64("user_id", id))
	return nil
}

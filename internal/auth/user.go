// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
)

// MaxEmailLength matches the users.email column width.
const MaxEmailLength = 255

// ErrDuplicateEmail is returned when creating a user whose email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// User represents an account that can log in.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	DateCreated  time.Time
}

// NewUser creates a User with a normalized, validated email. passwordHash
// must already be the combined salt+hash produced by a PasswordHasher.
func NewUser(email, passwordHash string, active bool) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_PASSWORD_HASH").Wrapf(ErrValidation, "password hash cannot be empty")
	}
	return &User{
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     active,
		DateCreated:  time.Now().UTC(),
	}, nil
}

// SafeEmail returns the user's email with the local part masked.
func (u *User) SafeEmail() string {
	return MaskEmail(u.Email)
}

// NormalizeEmail trims surrounding space and lowercases the address.
// Lookups and inserts always go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail performs the structural checks the login form relies on.
// It is deliberately loose; deliverability is not our concern.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("USER_EMAIL_EMPTY").Wrapf(ErrValidation, "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("USER_EMAIL_TOO_LONG").
			With("length", len(email)).
			Wrapf(ErrValidation, "email must be at most %d characters", MaxEmailLength)
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return oops.Code("USER_EMAIL_INVALID").Wrapf(ErrValidation, "email must contain a local part and a domain")
	}
	return nil
}

// MaskEmail keeps the first two characters of the local part and the whole
// domain, replacing the rest with asterisks: "john@example.com" -> "jo**@example.com".
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return local + domain
	}
	return local[:2] + strings.Repeat("*", len(local)-2) + domain
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create inserts the user and sets its ID and DateCreated.
	// Returns ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID returns ErrNotFound when no user has the id.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByEmail looks up by normalized email. Returns ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// SetActive flips the is_active flag.
	SetActive(ctx context.Context, id int64, active bool) error

	// Delete removes the user; sessions go with it via ON DELETE CASCADE.
	Delete(ctx context.Context, id int64) error
}

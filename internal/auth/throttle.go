// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Throttle configuration.
const (
	// CaptchaThreshold is the attempt count above which a captcha is required.
	CaptchaThreshold = 3

	// MaxIPAddressLength matches the login_attempts.ip_address column (IPv6 text form).
	MaxIPAddressLength = 45
)

// LoginAttempt counts login tries from one origin address since its last
// successful login.
type LoginAttempt struct {
	IPAddress    string
	AttemptCount int
	LastAttempt  time.Time
}

// AttemptRepository persists login attempt counters, one row per address.
type AttemptRepository interface {
	// Get returns ErrNotFound when the address has no row.
	Get(ctx context.Context, ipAddress string) (*LoginAttempt, error)

	// Increment atomically creates the row with a count of 1 or bumps the
	// existing count, stamping last_attempt with at, and returns the new row.
	Increment(ctx context.Context, ipAddress string, at time.Time) (*LoginAttempt, error)

	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, ipAddress string) error
}

// Throttle tracks login attempts per origin address and decides when a
// captcha becomes mandatory.
type Throttle struct {
	repo AttemptRepository
	opts options
}

// NewThrottle creates a Throttle.
func NewThrottle(repo AttemptRepository, opts ...Option) (*Throttle, error) {
	if repo == nil {
		return nil, oops.Code("THROTTLE_INVALID_DEPS").Errorf("attempt repository is required")
	}
	return &Throttle{repo: repo, opts: newOptions(opts)}, nil
}

// GetOrCreate returns the counter for ipAddress. A missing row yields a fresh,
// unsaved record with a zero count; Increment persists it.
func (t *Throttle) GetOrCreate(ctx context.Context, ipAddress string) (*LoginAttempt, error) {
	if err := validateIPAddress(ipAddress); err != nil {
		return nil, err
	}

	rec, err := retryRead(ctx, func(ctx context.Context) (*LoginAttempt, error) {
		return t.repo.Get(ctx, ipAddress)
	})
	if errors.Is(err, ErrNotFound) {
		return &LoginAttempt{IPAddress: ipAddress, LastAttempt: t.opts.nowUTC()}, nil
	}
	if err != nil {
		return nil, oops.Code("THROTTLE_READ_FAILED").With("ip_address", ipAddress).Wrap(err)
	}
	return rec, nil
}

// Increment durably bumps the counter and refreshes rec from the stored row.
// The bump is a single upsert, so concurrent attempts from one address never
// lose a count. It is not retried.
func (t *Throttle) Increment(ctx context.Context, rec *LoginAttempt) error {
	if rec == nil {
		return oops.Code("THROTTLE_NIL_RECORD").Wrapf(ErrValidation, "attempt record is required")
	}
	if err := validateIPAddress(rec.IPAddress); err != nil {
		return err
	}

	updated, err := t.repo.Increment(ctx, rec.IPAddress, t.opts.nowUTC())
	if err != nil {
		return oops.Code("THROTTLE_INCREMENT_FAILED").With("ip_address", rec.IPAddress).Wrap(err)
	}
	*rec = *updated
	return nil
}

// Reset deletes the counter for ipAddress.
func (t *Throttle) Reset(ctx context.Context, ipAddress string) error {
	if err := t.repo.Delete(ctx, ipAddress); err != nil {
		return oops.Code("THROTTLE_RESET_FAILED").With("ip_address", ipAddress).Wrap(err)
	}
	t.opts.logger.Debug("login attempts reset", slog.String("ip_address", ipAddress))
	return nil
}

// RequiresCaptcha reports whether rec is over the captcha threshold.
func (t *Throttle) RequiresCaptcha(rec *LoginAttempt) bool {
	return rec != nil && rec.AttemptCount > CaptchaThreshold
}

func validateIPAddress(ip string) error {
	if ip == "" {
		return oops.Code("THROTTLE_EMPTY_ADDRESS").Wrapf(ErrValidation, "origin address is required")
	}
	if len(ip) > MaxIPAddressLength {
		return oops.Code("THROTTLE_ADDRESS_TOO_LONG").
			With("length", len(ip)).
			Wrapf(ErrValidation, "origin address must be at most %d characters", MaxIPAddressLength)
	}
	return nil
}

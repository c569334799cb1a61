// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Session key and column constraints.
const (
	SessionKeyLength          = 32
	DefaultSessionKeyAttempts = 5
	MaxUserAgentLength        = 255

	sessionKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Largest multiple of len(alphabet) below 256; bytes at or above it are
	// rejected so every character is equally likely.
	sessionKeyByteLimit = 256 - 256%len(sessionKeyAlphabet)

	keyCollisionDelay = time.Millisecond
)

// ErrDuplicateSessionKey is returned by SessionRepository.Insert when the
// key is already taken. SessionStore retries on it.
var ErrDuplicateSessionKey = errors.New("session key already exists")

// Session is an authenticated browser session.
type Session struct {
	Key          string
	UserID       int64
	CreatedAt    time.Time
	LastAccessed time.Time
	IPAddress    string
	UserAgent    string
}

// IdleSince reports whether the session was last used before cutoff.
func (s *Session) IdleSince(cutoff time.Time) bool {
	return s.LastAccessed.Before(cutoff)
}

// SessionRepository manages session persistence. The unique constraint on
// the session key is the authority on key uniqueness.
type SessionRepository interface {
	// Insert stores a new session. Returns ErrDuplicateSessionKey on key collision.
	Insert(ctx context.Context, session *Session) error

	// GetByUserAndKey returns ErrNotFound unless both userID and key match.
	GetByUserAndKey(ctx context.Context, userID int64, key string) (*Session, error)

	// Touch sets last_accessed. Returns ErrNotFound when the session is gone.
	Touch(ctx context.Context, key string, at time.Time) error

	// Delete removes one session. Returns ErrNotFound when absent.
	Delete(ctx context.Context, key string) error

	// DeleteByUser removes every session of userID and returns how many went.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)

	// DeleteIdleBefore removes sessions whose last_accessed is before cutoff.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionStoreConfig tunes a SessionStore.
type SessionStoreConfig struct {
	// KeyAttempts bounds key generation. Zero means DefaultSessionKeyAttempts.
	KeyAttempts int

	// IdleTTL expires sessions unused for this long. Zero disables expiry.
	IdleTTL time.Duration
}

// SessionStore creates, finds and refreshes sessions.
type SessionStore struct {
	repo SessionRepository
	cfg  SessionStoreConfig
	opts options
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(repo SessionRepository, cfg SessionStoreConfig, opts ...Option) (*SessionStore, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_INVALID_DEPS").Errorf("session repository is required")
	}
	if cfg.KeyAttempts < 0 {
		return nil, oops.Code("SESSION_INVALID_CONFIG").With("key_attempts", cfg.KeyAttempts).Errorf("key attempts cannot be negative")
	}
	if cfg.IdleTTL < 0 {
		return nil, oops.Code("SESSION_INVALID_CONFIG").With("idle_ttl", cfg.IdleTTL).Errorf("idle ttl cannot be negative")
	}
	if cfg.KeyAttempts == 0 {
		cfg.KeyAttempts = DefaultSessionKeyAttempts
	}
	return &SessionStore{repo: repo, cfg: cfg, opts: newOptions(opts)}, nil
}

// Create stores a new session for userID under a fresh random key. Key
// collisions reported by the repository are retried up to the configured
// number of attempts, after which an ErrKeyExhausted error is returned.
func (s *SessionStore) Create(ctx context.Context, userID int64, ipAddress, userAgent string) (*Session, error) {
	if userID <= 0 {
		return nil, oops.Code("SESSION_INVALID_USER").With("user_id", userID).Wrapf(ErrValidation, "user id must be positive")
	}

	now := s.opts.nowUTC().Truncate(time.Microsecond)
	session := &Session{
		UserID:       userID,
		CreatedAt:    now,
		LastAccessed: now,
		IPAddress:    truncate(ipAddress, MaxIPAddressLength),
		UserAgent:    truncate(userAgent, MaxUserAgentLength),
	}

	attempts := s.cfg.KeyAttempts
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(keyCollisionDelay)) //nolint:gosec // attempts >= 1
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		key, err := s.opts.keygen()
		if err != nil {
			return err
		}
		session.Key = key

		err = s.repo.Insert(ctx, session)
		if errors.Is(err, ErrDuplicateSessionKey) {
			s.opts.recorder.RecordSessionKeyCollision()
			s.opts.logger.Warn("session key collision, drawing a new key", slog.Int64("user_id", userID))
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, ErrDuplicateSessionKey):
		s.opts.logger.Error("session key attempts exhausted",
			slog.Int64("user_id", userID),
			slog.Int("attempts", attempts))
		return nil, oops.Code("SESSION_KEY_EXHAUSTED").
			With("user_id", userID).
			With("attempts", attempts).
			Wrap(ErrKeyExhausted)
	default:
		return nil, oops.Code("SESSION_CREATE_FAILED").With("user_id", userID).Wrap(err)
	}
}

// Lookup returns the session only when both userID and key match. With an
// idle TTL configured, a session unused for longer is reported as absent.
func (s *SessionStore) Lookup(ctx context.Context, userID int64, key string) (*Session, error) {
	if userID <= 0 || key == "" {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}

	session, err := retryRead(ctx, func(ctx context.Context) (*Session, error) {
		return s.repo.GetByUserAndKey(ctx, userID, key)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("SESSION_LOOKUP_FAILED").With("user_id", userID).Wrap(err)
	}

	if s.cfg.IdleTTL > 0 && session.IdleSince(s.opts.nowUTC().Add(-s.cfg.IdleTTL)) {
		return nil, oops.Code("SESSION_IDLE_EXPIRED").
			With("user_id", userID).
			With("last_accessed", session.LastAccessed).
			Wrap(ErrNotFound)
	}
	return session, nil
}

// RefreshLastAccessed stamps the session with the current time. The new
// value is always later than the previous one, even on a coarse clock.
func (s *SessionStore) RefreshLastAccessed(ctx context.Context, session *Session) error {
	at := s.opts.nowUTC().Truncate(time.Microsecond)
	if !at.After(session.LastAccessed) {
		at = session.LastAccessed.Add(time.Microsecond)
	}
	if err := s.repo.Touch(ctx, session.Key, at); err != nil {
		return oops.Code("SESSION_REFRESH_FAILED").With("user_id", session.UserID).Wrap(err)
	}
	session.LastAccessed = at
	return nil
}

// Delete removes session.
func (s *SessionStore) Delete(ctx context.Context, session *Session) error {
	if err := s.repo.Delete(ctx, session.Key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return oops.Code("SESSION_DELETE_FAILED").With("user_id", session.UserID).Wrap(err)
	}
	return nil
}

// DeleteForUser removes every session belonging to userID.
func (s *SessionStore) DeleteForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return n, nil
}

// Prune deletes sessions idle longer than the configured TTL. It is a no-op
// when no TTL is configured.
func (s *SessionStore) Prune(ctx context.Context) (int64, error) {
	if s.cfg.IdleTTL == 0 {
		return 0, nil
	}
	cutoff := s.opts.nowUTC().Add(-s.cfg.IdleTTL)
	n, err := s.repo.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	s.opts.logger.Info("pruned idle sessions", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	return n, nil
}

// GenerateSessionKey draws SessionKeyLength characters uniformly from
// [a-zA-Z0-9] using crypto/rand.
func GenerateSessionKey() (string, error) {
	key := make([]byte, 0, SessionKeyLength)
	buf := make([]byte, SessionKeyLength*2)
	for len(key) < SessionKeyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", oops.Code("SESSION_KEY_GENERATION_FAILED").
				With("operation", "crypto/rand.Read").
				Wrap(err)
		}
		for _, b := range buf {
			if int(b) >= sessionKeyByteLimit {
				continue
			}
			key = append(key, sessionKeyAlphabet[int(b)%len(sessionKeyAlphabet)])
			if len(key) == SessionKeyLength {
				break
			}
		}
	}
	return string(key), nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

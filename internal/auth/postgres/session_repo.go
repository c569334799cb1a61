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

// SessionRepository implements auth.SessionRepository.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert stores session. A taken key surfaces as auth.ErrDuplicateSessionKey
// so the caller can draw another one.
func (r *SessionRepository) Insert(ctx context.Context, session *auth.Session) error {
	created, err := auth.ToUTC(session.CreatedAt)
	if err != nil {
		return err
	}
	accessed, err := auth.ToUTC(session.LastAccessed)
	if err != nil {
		return err
	}

	_, err = conn(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (session_key, user_id, created_at, last_accessed, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.Key, session.UserID, created, accessed, nullable(session.IPAddress), nullable(session.UserAgent))
	if isUniqueViolation(err, "sessions_pkey") {
		return oops.Code("SESSION_KEY_CONFLICT").Wrap(auth.ErrDuplicateSessionKey)
	}
	if err != nil {
		return storeErr("SESSION_INSERT_FAILED", "insert session", err)
	}
	return nil
}

// GetByUserAndKey matches on both columns so a key alone never resolves.
func (r *SessionRepository) GetByUserAndKey(ctx context.Context, userID int64, key string) (*auth.Session, error) {
	var (
		s         auth.Session
		ip, agent *string
	)
	err := conn(ctx, r.db).QueryRow(ctx, `
		SELECT session_key, user_id, created_at, last_accessed, ip_address, user_agent
		FROM sessions
		WHERE user_id = $1 AND session_key = $2
	`, userID, key).Scan(&s.Key, &s.UserID, &s.CreatedAt, &s.LastAccessed, &ip, &agent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("SESSION_GET_FAILED", "get session", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastAccessed = s.LastAccessed.UTC()
	s.IPAddress = deref(ip)
	s.UserAgent = deref(agent)
	return &s, nil
}

// Touch sets last_accessed.
func (r *SessionRepository) Touch(ctx context.Context, key string, at time.Time) error {
	at, err := auth.ToUTC(at)
	if err != nil {
		return err
	}
	tag, err := conn(ctx, r.db).Exec(ctx, `UPDATE sessions SET last_accessed = $2 WHERE session_key = $1`, key, at)
	if err != nil {
		return storeErr("SESSION_TOUCH_FAILED", "touch session", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes one session.
func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE session_key = $1`, key)
	if err != nil {
		return storeErr("SESSION_DELETE_FAILED", "delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes all sessions of userID and reports how many.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, storeErr("SESSION_DELETE_FAILED", "delete sessions by user", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteIdleBefore removes sessions last accessed before cutoff.
func (r *SessionRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff, err := auth.ToUTC(cutoff)
	if err != nil {
		return 0, err
	}
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE last_accessed < $1`, cutoff)
	if err != nil {
		return 0, storeErr("SESSION_PRUNE_FAILED", "delete idle sessions", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ auth.SessionRepository = (*SessionRepository)(nil)

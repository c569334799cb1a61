// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory auth repositories for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/shavon/internal/auth"
)

// Store holds users, login attempts and sessions in memory and hands out
// repository views over them. It is safe for concurrent use and mirrors the
// constraints of the SQL schema: unique emails, unique session keys, one
// attempt row per address and cascading session deletes.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]auth.User
	attempts map[string]auth.LoginAttempt
	sessions map[string]auth.Session
	calls    map[string]int
	failures map[string]error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[int64]auth.User),
		attempts: make(map[string]auth.LoginAttempt),
		sessions: make(map[string]auth.Session),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// Users returns the auth.UserRepository view.
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Attempts returns the auth.AttemptRepository view.
func (s *Store) Attempts() *AttemptRepo { return &AttemptRepo{s: s} }

// Sessions returns the auth.SessionRepository view.
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// FailOn makes every call to op return err until cleared with a nil err.
// Ops are named "<view>.<Method>", e.g. "sessions.Touch".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of repository calls of any kind.
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// SessionsForUser returns copies of every session owned by userID.
func (s *Store) SessionsForUser(userID int64) []auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out
}

// Attempt returns the stored attempt row for ip.
func (s *Store) Attempt(ip string) (auth.LoginAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[ip]
	return a, ok
}

// enter records the call and returns the injected failure, if any. Callers
// must hold s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

// UserRepo implements auth.UserRepository.
type UserRepo struct{ s *Store }

// Create stores user and assigns its ID.
func (r *UserRepo) Create(_ context.Context, user *auth.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.Create"); err != nil {
		return err
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return oops.Code("USER_EMAIL_EXISTS").Wrap(auth.ErrDuplicateEmail)
		}
	}
	r.s.nextID++
	user.ID = r.s.nextID
	if user.DateCreated.IsZero() {
		user.DateCreated = time.Now().UTC()
	}
	r.s.users[user.ID] = *user
	return nil
}

// GetByID returns a copy of the user.
func (r *UserRepo) GetByID(_ context.Context, id int64) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &u, nil
}

// GetByEmail returns a copy of the user with email.
func (r *UserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.GetByEmail"); err != nil {
		return nil, err
	}
	for _, u := range r.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// SetActive updates the is_active flag.
func (r *UserRepo) SetActive(_ context.Context, id int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.SetActive"); err != nil {
		return err
	}
	u, ok := r.s.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	u.IsActive = active
	r.s.users[id] = u
	return nil
}

// Delete removes the user and cascades to its sessions.
func (r *UserRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.users[id]; !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.s.users, id)
	for key, sess := range r.s.sessions {
		if sess.UserID == id {
			delete(r.s.sessions, key)
		}
	}
	return nil
}

// AttemptRepo implements auth.AttemptRepository.
type AttemptRepo struct{ s *Store }

// Get returns a copy of the attempt row.
func (r *AttemptRepo) Get(_ context.Context, ip string) (*auth.LoginAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("attempts.Get"); err != nil {
		return nil, err
	}
	a, ok := r.s.attempts[ip]
	if !ok {
		return nil, oops.Code("LOGIN_ATTEMPT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &a, nil
}

// Increment creates or bumps the row under the store lock.
func (r *AttemptRepo) Increment(_ context.Context, ip string, at time.Time) (*auth.LoginAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("attempts.Increment"); err != nil {
		return nil, err
	}
	a := r.s.attempts[ip]
	a.IPAddress = ip
	a.AttemptCount++
	a.LastAttempt = at
	r.s.attempts[ip] = a
	return &a, nil
}

// Delete removes the row if present.
func (r *AttemptRepo) Delete(_ context.Context, ip string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("attempts.Delete"); err != nil {
		return err
	}
	delete(r.s.attempts, ip)
	return nil
}

// SessionRepo implements auth.SessionRepository.
type SessionRepo struct{ s *Store }

// Insert stores a copy of session, enforcing key uniqueness and the user
// foreign key.
func (r *SessionRepo) Insert(_ context.Context, session *auth.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("sessions.Insert"); err != nil {
		return err
	}
	if _, ok := r.s.sessions[session.Key]; ok {
		return oops.Code("SESSION_KEY_CONFLICT").Wrap(auth.ErrDuplicateSessionKey)
	}
	if _, ok := r.s.users[session.UserID]; !ok {
		return oops.Code("SESSION_INSERT_FAILED").Wrap(auth.NewStoreError("insert session", oops.Errorf("user %d does not exist", session.UserID)))
	}
	r.s.sessions[session.Key] = *session
	return nil
}

// GetByUserAndKey returns a copy of the session when both fields match.
func (r *SessionRepo) GetByUserAndKey(_ context.Context, userID int64, key string) (*auth.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("sessions.GetByUserAndKey"); err != nil {
		return nil, err
	}
	sess, ok := r.s.sessions[key]
	if !ok || sess.UserID != userID {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &sess, nil
}

// Touch sets last_accessed.
func (r *SessionRepo) Touch(_ context.Context, key string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("sessions.Touch"); err != nil {
		return err
	}
	sess, ok := r.s.sessions[key]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	sess.LastAccessed = at
	r.s.sessions[key] = sess
	return nil
}

// Delete removes one session.
func (r *SessionRepo) Delete(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("sessions.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.sessions[key]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.s.sessions, key)
	return nil
}

// DeleteByUser removes every session of userID.
func (r *SessionRepo) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("sessions.DeleteByUser"); err != nil {
		return 0, err
	}
	var n int64
	for key, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, key)
			n++
		}
	}
	return n, nil
}

// DeleteIdleBefore removes sessions last accessed before cutoff.
func (r *SessionRepo) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("sessions.DeleteIdleBefore"); err != nil {
		return 0, err
	}
	var n int64
	for key, sess := range r.s.sessions {
		if sess.LastAccessed.Before(cutoff) {
			delete(r.s.sessions, key)
			n++
		}
	}
	return n, nil
}

// Transactor runs fn directly. It gives no rollback; tests that need
// atomicity use the postgres integration suite.
type Transactor struct{}

// InTransaction calls fn with ctx.
func (Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Fixed is a clock that returns a settable time.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed creates a clock at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

// Now returns the current fixed time.
func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var (
	_ auth.UserRepository    = (*UserRepo)(nil)
	_ auth.AttemptRepository = (*AttemptRepo)(nil)
	_ auth.SessionRepository = (*SessionRepo)(nil)
	_ auth.Transactor        = Transactor{}
)

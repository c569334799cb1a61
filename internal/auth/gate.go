// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/shavon/pkg/errutil"
)

// Outcome is the terminal result of a gate check.
type Outcome int

// Gate outcomes.
const (
	// OutcomeRedirect sends the client to the login page.
	OutcomeRedirect Outcome = iota
	// OutcomeProceed lets the request through with an Identity attached.
	OutcomeProceed
)

func (o Outcome) String() string {
	if o == OutcomeProceed {
		return "proceed"
	}
	return "redirect"
}

// Rejection reasons. They are for logs and metrics only; clients see the
// same redirect for all of them.
const (
	ReasonNoCookie     = "no_cookie"
	ReasonToken        = "token"
	ReasonSession      = "session"
	ReasonUser         = "user"
	ReasonInactiveUser = "inactive_user"
	ReasonStore        = "store"
	ReasonAuthorized   = "authorized"
)

// Identity is attached to authorized requests.
type Identity struct {
	User    *User
	Session *Session
}

// Decision is what the request pipeline must do after a gate check.
type Decision struct {
	Outcome     Outcome
	ClearCookie bool
	Identity    *Identity
	Reason      string
}

// Gate authorizes requests to protected routes from the auth cookie value.
type Gate struct {
	tokens   *TokenIssuer
	sessions *SessionStore
	users    UserRepository
	opts     options
}

// NewGate creates a Gate.
func NewGate(tokens *TokenIssuer, sessions *SessionStore, users UserRepository, opts ...Option) (*Gate, error) {
	if tokens == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("token issuer is required")
	}
	if sessions == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("session store is required")
	}
	if users == nil {
		return nil, oops.Code("GATE_INVALID_DEPS").Errorf("users repository is required")
	}
	return &Gate{tokens: tokens, sessions: sessions, users: users, opts: newOptions(opts)}, nil
}

// Check runs the gate for one request. An empty cookie value counts as no
// cookie. Check never returns an error: every failure becomes a redirect
// that also clears the cookie.
func (g *Gate) Check(ctx context.Context, cookie string) Decision {
	d := g.check(ctx, cookie)
	g.opts.recorder.RecordGateDecision(d.Outcome.String(), d.Reason)
	return d
}

func (g *Gate) check(ctx context.Context, cookie string) Decision {
	if cookie == "" {
		return Decision{Outcome: OutcomeRedirect, Reason: ReasonNoCookie}
	}

	claims, err := g.tokens.Verify(cookie)
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			g.opts.logger.DebugContext(ctx, "gate rejected token", slog.String("reason", string(tokenErr.Reason)))
		}
		return invalid(ReasonToken)
	}

	session, err := g.sessions.Lookup(ctx, claims.UserID, claims.SessionKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			g.opts.logger.DebugContext(ctx, "gate found no session", slog.Int64("user_id", claims.UserID))
			return invalid(ReasonSession)
		}
		errutil.LogError(g.opts.logger, "gate session lookup failed", err)
		return invalid(ReasonStore)
	}

	user, err := retryRead(ctx, func(ctx context.Context) (*User, error) {
		return g.users.GetByID(ctx, claims.UserID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid(ReasonUser)
		}
		errutil.LogError(g.opts.logger, "gate user lookup failed", err)
		return invalid(ReasonStore)
	}
	if !user.IsActive {
		g.opts.logger.InfoContext(ctx, "gate rejected inactive user", slog.Int64("user_id", user.ID))
		return invalid(ReasonInactiveUser)
	}

	if err := g.sessions.RefreshLastAccessed(ctx, session); err != nil {
		g.opts.logger.WarnContext(ctx, "failed to refresh session last_accessed",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()))
	}

	return Decision{
		Outcome:  OutcomeProceed,
		Identity: &Identity{User: user, Session: session},
		Reason:   ReasonAuthorized,
	}
}

func invalid(reason string) Decision {
	return Decision{Outcome: OutcomeRedirect, ClearCookie: true, Reason: reason}
}

type identityKey struct{}

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the Identity attached by the gate, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

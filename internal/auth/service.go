// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/shavon/pkg/errutil"
)

// Login results reported to the Recorder.
const (
	LoginSuccess         = "success"
	LoginInvalid         = "invalid_credentials"
	LoginCaptchaRequired = "captcha_required"
	LoginValidation      = "validation"
	LoginError           = "error"
)

// CaptchaVerifier checks a captcha response.
type CaptchaVerifier interface {
	VerifyCaptcha(ctx context.Context, response, ipAddress string) (bool, error)
}

// PresenceCaptchaVerifier accepts any non-blank response. It is the default
// until a real captcha provider is configured.
type PresenceCaptchaVerifier struct{}

// VerifyCaptcha reports whether response is non-blank.
func (PresenceCaptchaVerifier) VerifyCaptcha(_ context.Context, response, _ string) (bool, error) {
	return strings.TrimSpace(response) != "", nil
}

// LoginRequest carries the login form plus request metadata.
type LoginRequest struct {
	Email     string
	Password  string
	Captcha   string
	IPAddress string
	UserAgent string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	User    *User
	Session *Session
	Token   string
}

// ServiceDeps are the collaborators of Service.
type ServiceDeps struct {
	Users    UserRepository
	Throttle *Throttle
	Sessions *SessionStore
	Tokens   *TokenIssuer
	Hasher   PasswordHasher
	Captcha  CaptchaVerifier
}

// Service runs the login and logout flows.
type Service struct {
	users    UserRepository
	throttle *Throttle
	sessions *SessionStore
	tokens   *TokenIssuer
	hasher   PasswordHasher
	captcha  CaptchaVerifier
	opts     options
}

// NewService creates a Service. Captcha defaults to PresenceCaptchaVerifier.
func NewService(deps ServiceDeps, opts ...Option) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("users repository is required")
	case deps.Throttle == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("throttle is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("session store is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("token issuer is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("password hasher is required")
	}
	if deps.Captcha == nil {
		deps.Captcha = PresenceCaptchaVerifier{}
	}
	return &Service{
		users:    deps.Users,
		throttle: deps.Throttle,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		captcha:  deps.Captcha,
		opts:     newOptions(opts),
	}, nil
}

// Login authenticates req and opens a session.
//
// The attempt counter for the origin address is bumped before anything else
// is checked, so every try counts until one succeeds. Unknown email, wrong
// password and inactive account all return the same ErrAuthenticationFailed
// error, and each of them costs one key derivation.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result, err := s.login(ctx, req)
	s.opts.recorder.RecordLogin(loginResultLabel(err))
	return result, err
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	attempt, err := s.throttle.GetOrCreate(ctx, req.IPAddress)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "read login attempts").Wrap(err)
	}
	if err := s.throttle.Increment(ctx, attempt); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "count login attempt").Wrap(err)
	}
	requireCaptcha := s.throttle.RequiresCaptcha(attempt)

	email := NormalizeEmail(req.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, oops.Code("LOGIN_PASSWORD_EMPTY").Wrapf(ErrValidation, "password is required")
	}

	if requireCaptcha {
		ok, err := s.captcha.VerifyCaptcha(ctx, req.Captcha, req.IPAddress)
		if err != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify captcha").Wrap(err)
		}
		if !ok {
			return nil, oops.Code("AUTH_CAPTCHA_REQUIRED").
				With("attempt_count", attempt.AttemptCount).
				Wrap(ErrCaptchaRequired)
		}
	}

	user, err := retryRead(ctx, func(ctx context.Context) (*User, error) {
		return s.users.GetByEmail(ctx, email)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by email").Wrap(err)
	}

	targetHash := dummyHash
	if user != nil {
		targetHash = user.PasswordHash
	}
	valid, verifyErr := s.hasher.Verify(targetHash, req.Password)
	if verifyErr != nil {
		valid = false
		if user != nil {
			errutil.LogError(s.opts.logger, "stored password hash is malformed", oops.With("user_id", user.ID).Wrap(verifyErr))
		}
	}

	if user == nil || !user.IsActive || !valid {
		s.opts.logger.InfoContext(ctx, "login rejected",
			slog.String("email", MaskEmail(email)),
			slog.String("ip_address", req.IPAddress),
			slog.Int("attempt_count", attempt.AttemptCount))
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrAuthenticationFailed)
	}

	if err := s.throttle.Reset(ctx, req.IPAddress); err != nil {
		s.opts.logger.WarnContext(ctx, "failed to reset login attempts",
			slog.String("ip_address", req.IPAddress),
			slog.String("error", err.Error()))
	}

	session, err := s.sessions.Create(ctx, user.ID, req.IPAddress, req.UserAgent)
	if err != nil {
		return nil, oops.With("operation", "create session").Wrap(err)
	}

	token, err := s.tokens.Sign(user.ID, session.Key)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "sign token").Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "login succeeded",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.SafeEmail()))
	return &LoginResult{User: user, Session: session, Token: token}, nil
}

// Logout deletes the session. A session that is already gone is not an error.
func (s *Service) Logout(ctx context.Context, session *Session) error {
	if session == nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, session); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").With("user_id", session.UserID).Wrap(err)
	}
	s.opts.logger.InfoContext(ctx, "logout", slog.Int64("user_id", session.UserID))
	return nil
}

func loginResultLabel(err error) string {
	switch {
	case err == nil:
		return LoginSuccess
	case errors.Is(err, ErrAuthenticationFailed):
		return LoginInvalid
	case errors.Is(err, ErrCaptchaRequired):
		return LoginCaptchaRequired
	case errors.Is(err, ErrValidation):
		return LoginValidation
	default:
		return LoginError
	}
}

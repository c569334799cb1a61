// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultTokenAlgorithm is used when TokenConfig.Algorithm is empty.
const DefaultTokenAlgorithm = "HS256"

// errAlgorithmMismatch is raised from the key function so Verify can tell an
// unexpected alg header apart from a bad signature.
var errAlgorithmMismatch = errors.New("unexpected signing algorithm")

// Claims is the token payload: the owning user and the session key. An exp
// claim is added only when a TTL is configured.
type Claims struct {
	UserID     int64  `json:"user_id"`
	SessionKey string `json:"session_key"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Secret    []byte
	Algorithm string
	// TTL adds an expiry to issued tokens and makes it mandatory on
	// verification. Zero issues tokens without expiry.
	TTL time.Duration
}

// TokenIssuer signs and verifies session tokens with a shared secret.
type TokenIssuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	opts   options
}

// NewTokenIssuer creates a TokenIssuer. Only HMAC algorithms are accepted.
func NewTokenIssuer(cfg TokenConfig, opts ...Option) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").Errorf("token secret is required")
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").With("ttl", cfg.TTL).Errorf("token ttl cannot be negative")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = DefaultTokenAlgorithm
	}

	var method jwt.SigningMethod
	switch alg {
	case jwt.SigningMethodHS256.Alg():
		method = jwt.SigningMethodHS256
	case jwt.SigningMethodHS384.Alg():
		method = jwt.SigningMethodHS384
	case jwt.SigningMethodHS512.Alg():
		method = jwt.SigningMethodHS512
	default:
		return nil, oops.Code("TOKEN_INVALID_CONFIG").With("algorithm", alg).Errorf("unsupported token algorithm")
	}

	return &TokenIssuer{
		secret: cfg.Secret,
		method: method,
		ttl:    cfg.TTL,
		opts:   newOptions(opts),
	}, nil
}

// Sign issues a token for the given user and session key.
func (i *TokenIssuer) Sign(userID int64, sessionKey string) (string, error) {
	if userID <= 0 || sessionKey == "" {
		return "", oops.Code("TOKEN_INVALID_CLAIMS").
			With("user_id", userID).
			Wrapf(ErrValidation, "user id and session key are required")
	}

	claims := Claims{UserID: userID, SessionKey: sessionKey}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(i.opts.now().Add(i.ttl))
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm, required claims and, when a TTL is
// configured, expiry. Every failure is a *TokenError.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, &TokenError{Reason: TokenMalformed}
	}

	parserOpts := []jwt.ParserOption{jwt.WithTimeFunc(i.opts.now)}
	if i.ttl > 0 {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != i.method.Alg() {
			return nil, errAlgorithmMismatch
		}
		return i.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, &TokenError{Reason: tokenReason(err)}
	}

	if claims.UserID <= 0 || claims.SessionKey == "" {
		return nil, &TokenError{Reason: TokenClaims}
	}
	return claims, nil
}

func tokenReason(err error) TokenReason {
	switch {
	case errors.Is(err, errAlgorithmMismatch):
		return TokenAlgorithm
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return TokenClaims
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenSignature
	default:
		return TokenMalformed
	}
}

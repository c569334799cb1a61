// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; the oops code on the wrapping
// error names the specific failure.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input such as an empty email.
	ErrValidation = errors.New("validation failed")

	// ErrAuthenticationFailed covers both unknown users and wrong passwords.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrCaptchaRequired is returned once the throttle threshold is exceeded
	// and no valid captcha was supplied.
	ErrCaptchaRequired = errors.New("captcha required")

	// ErrToken is matched by every *TokenError.
	ErrToken = errors.New("invalid token")

	// ErrKeyExhausted is returned when no unique session key could be drawn.
	ErrKeyExhausted = errors.New("session key attempts exhausted")

	// ErrStore is matched by every *StoreError.
	ErrStore = errors.New("store failure")

	// ErrMalformedCredential is returned when a stored password hash cannot be parsed.
	ErrMalformedCredential = errors.New("malformed stored credential")
)

// GenericFailureMessage is the only message shown to clients for failed logins.
const GenericFailureMessage = "Invalid credentials or account inactive."

// TokenReason says why a token was rejected.
type TokenReason string

// Token rejection reasons.
const (
	TokenMalformed TokenReason = "malformed"
	TokenSignature TokenReason = "signature"
	TokenAlgorithm TokenReason = "algorithm"
	TokenClaims    TokenReason = "claims"
	TokenExpired   TokenReason = "expired"
)

// TokenError reports a token that failed verification. It never carries
// key material or the token itself.
type TokenError struct {
	Reason TokenReason
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

// Is reports whether target is ErrToken.
func (e *TokenError) Is(target error) bool {
	return target == ErrToken
}

// StoreError wraps a failure from the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps err as a StoreError for operation op.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

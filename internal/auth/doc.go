// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential and session authentication for Shavon.
//
// # Components
//
//   - PBKDF2Hasher - salted PBKDF2-HMAC-SHA512 password hashes
//   - Throttle - per-origin login attempt counter with a captcha threshold
//   - SessionStore - session creation with bounded key-collision retry
//   - TokenIssuer - signed tokens carrying user id and session key
//   - Gate - decides whether a request to a protected route may proceed
//
// # Services
//
//   - Service - login and logout
//   - UserService - account administration
//
// Persistence is reached only through the repository interfaces declared
// here (UserRepository, AttemptRepository, SessionRepository, Transactor).
// internal/auth/postgres implements them on pgx; internal/auth/authtest
// provides in-memory versions for tests.
//
// # Errors
//
// Failures wrap one of the taxonomy sentinels (ErrValidation,
// ErrAuthenticationFailed, ErrCaptchaRequired, ErrToken, ErrKeyExhausted,
// ErrStore, ErrMalformedCredential, ErrNotFound) in an oops error whose code
// names the exact failure.
package auth

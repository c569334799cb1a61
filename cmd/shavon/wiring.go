// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/auth/postgres"
	"github.com/holomush/shavon/internal/config"
)

// authStack is the auth core assembled over one database handle.
type authStack struct {
	sessions *auth.SessionStore
	admin    *auth.UserService
	// Set only when built for serving.
	service *auth.Service
	gate    *auth.Gate
}

// buildAuth wires the auth components. serving adds the token issuer, the
// login service and the gate, which need the signing secret.
func buildAuth(cfg *config.Config, db postgres.DB, logger *slog.Logger, rec auth.Recorder, serving bool) (*authStack, error) {
	opts := []auth.Option{auth.WithLogger(logger)}
	if rec != nil {
		opts = append(opts, auth.WithRecorder(rec))
	}

	users := postgres.NewUserRepository(db)
	sessions, err := auth.NewSessionStore(postgres.NewSessionRepository(db), cfg.SessionStoreConfig(), opts...)
	if err != nil {
		return nil, err
	}
	hasher := auth.NewPBKDF2Hasher()
	admin, err := auth.NewUserService(users, sessions, hasher, postgres.NewTransactor(db), opts...)
	if err != nil {
		return nil, err
	}
	stack := &authStack{sessions: sessions, admin: admin}
	if !serving {
		return stack, nil
	}

	tokens, err := auth.NewTokenIssuer(cfg.TokenConfig(), opts...)
	if err != nil {
		return nil, err
	}
	throttle, err := auth.NewThrottle(postgres.NewAttemptRepository(db), opts...)
	if err != nil {
		return nil, err
	}
	stack.service, err = auth.NewService(auth.ServiceDeps{
		Users:    users,
		Throttle: throttle,
		Sessions: sessions,
		Tokens:   tokens,
		Hasher:   hasher,
	}, opts...)
	if err != nil {
		return nil, err
	}
	stack.gate, err = auth.NewGate(tokens, sessions, users, opts...)
	if err != nil {
		return nil, err
	}
	return stack, nil
}

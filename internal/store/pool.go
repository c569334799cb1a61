// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store opens the PostgreSQL connection pool and owns the embedded
// schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
	// PingAttempts bounds how often the initial ping is tried before giving up.
	PingAttempts uint64
}

// OpenPool creates a pool and waits until the database answers a ping.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, oops.Code("DB_URL_MISSING").Errorf("database url is required")
	}

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		// The URL may hold a password; keep it out of the error.
		return nil, oops.Code("DB_URL_INVALID").Errorf("parse database url: %s", redactParseError(err))
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, oops.Code("DB_POOL_FAILED").Wrap(err)
	}

	attempts := cfg.PingAttempts
	if attempts == 0 {
		attempts = 5
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			slog.Debug("database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_PING_FAILED").
			With("host", pcfg.ConnConfig.Host).
			With("database", pcfg.ConnConfig.Database).
			Wrap(err)
	}

	slog.Info("database pool ready",
		"host", pcfg.ConnConfig.Host,
		"database", pcfg.ConnConfig.Database,
		"max_conns", pcfg.MaxConns)
	return pool, nil
}

func redactParseError(err error) string {
	// pgconn.ParseConfigError embeds the connection string; report only the cause.
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return u.Unwrap().Error()
	}
	return "malformed connection string"
}

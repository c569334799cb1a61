// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/holomush/shavon/internal/auth/postgres"
	"github.com/holomush/shavon/internal/observability"
	"github.com/holomush/shavon/internal/store"
)

// Pool is the part of *pgxpool.Pool the commands use.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// Deps contains injectable dependencies shared by the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolOpener connects to the database.
	// Default: store.OpenPool
	PoolOpener func(ctx context.Context, cfg store.PoolConfig) (Pool, error)

	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, isReady observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Signals delivers shutdown signals. The returned func stops delivery.
	// Default: SIGINT and SIGTERM via signal.Notify
	Signals func() (<-chan os.Signal, func())
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolOpener == nil {
		out.PoolOpener = func(ctx context.Context, cfg store.PoolConfig) (Pool, error) {
			return store.OpenPool(ctx, cfg)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, isReady observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, isReady, logger)
		}
	}
	if out.Signals == nil {
		out.Signals = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	return &out
}

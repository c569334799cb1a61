// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// Default timeout for administrative database commands.
const defaultAdminTimeout = 30 * time.Second

// withAuthStack connects with the loaded configuration, builds the auth
// components and runs fn under the admin timeout.
func withAuthStack(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, stack *authStack) error) error {
	cfg, logger, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").Errorf("database.url or DATABASE_URL is required")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, defaultAdminTimeout)
	defer cancel()

	pool, err := deps.PoolOpener(ctx, cfg.PoolConfig())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	stack, err := buildAuth(cfg, pool, logger, nil, false)
	if err != nil {
		return err
	}
	return fn(ctx, stack)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/shavon/internal/config"
	"github.com/holomush/shavon/internal/logging"
	"github.com/holomush/shavon/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// flagKeys maps command-line flags onto configuration keys. Only flags the
// user actually set override the file and environment.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"host":         "server.host",
	"port":         "server.port",
	"metrics-addr": "server.metrics_addr",
	"database-url": "database.url",
}

// NewRootCmd creates the root command for the shavon CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

// newRootCmdWithDeps builds the command tree over deps. Nil fields use the
// production implementations.
func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "shavon",
		Short: "Shavon - cookie session authentication service",
		Long: `Shavon authenticates users by email and password, keeps server-side
sessions in PostgreSQL and guards protected routes with a signed cookie.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/shavon/config.yaml)")
	cmd.PersistentFlags().String("log-format", "json", "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: DATABASE_URL)")

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newUserCmd(deps))
	cmd.AddCommand(newSessionsCmd(deps))

	return cmd
}

// loadConfig layers defaults, the config file, SHAVON_ variables and the
// flags of cmd, then installs the configured logger as slog's default.
// databaseOnly relaxes validation for commands that never serve HTTP.
func loadConfig(cmd *cobra.Command, databaseOnly bool) (*config.Config, *slog.Logger, error) {
	opts := config.LoadOptions{
		File:         configFile,
		Flags:        cmd.Flags(),
		FlagKeys:     flagKeys,
		Version:      version,
		DatabaseOnly: databaseOnly,
	}
	if configFile == "" {
		if path, err := xdg.ConfigFile(); err == nil {
			opts.DefaultFile = path
		}
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, nil, err
	}

	logOpts := cfg.LoggingOptions()
	logOpts.Writer = cmd.ErrOrStderr()
	logger, err := logging.SetDefault(logOpts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

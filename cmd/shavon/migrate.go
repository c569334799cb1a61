// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// newMigrateCmd creates the migrate command tree.
func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back and inspect the embedded PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the last --steps migrations. With --all every migration is
rolled back and all auth data is dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all") //nolint:errcheck // flag is registered below
			if !all && steps < 1 {
				return oops.Code("INVALID_STEPS").Errorf("--steps must be at least 1")
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if all {
					cmd.Println("Rolling back all migrations...")
					return m.Down()
				}
				cmd.Printf("Rolling back %d migration(s)...\n", steps)
				return m.Steps(-steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Current version:\t%d\n", status.Current)
				fmt.Fprintf(w, "Dirty:\t%t\n", status.Dirty)
				for _, mig := range status.Applied {
					fmt.Fprintf(w, "applied\t%s\n", mig.Name)
				}
				for _, mig := range status.Pending {
					fmt.Fprintf(w, "pending\t%s\n", mig.Name)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Record VERSION as the current schema version and clear the dirty flag.
Use only after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator opens a migrator from the loaded configuration, runs fn and
// closes it.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(Migrator) error) (err error) {
	cfg, _, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").Errorf("database.url or DATABASE_URL is required")
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"
)

// newSessionsCmd creates the sessions command tree.
func newSessionsCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session housekeeping",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete sessions idle longer than auth.session_idle_ttl",
		Long: `Delete every session whose last access is older than auth.session_idle_ttl.
Does nothing when the TTL is 0, the default.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthStack(cmd, deps, func(ctx context.Context, stack *authStack) error {
				n, err := stack.sessions.Prune(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("Pruned %d session(s)\n", n)
				return nil
			})
		},
	})
	return cmd
}

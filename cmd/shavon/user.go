// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/shavon/internal/auth"
)

// newUserCmd creates the user administration command tree.
func newUserCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd(deps))
	cmd.AddCommand(newUserToggleCmd(deps, "activate", "Allow USER_ID to log in"))
	cmd.AddCommand(newUserToggleCmd(deps, "deactivate", "Block USER_ID and drop their sessions"))
	cmd.AddCommand(newUserDeleteCmd(deps))
	cmd.AddCommand(newUserImportCmd(deps))
	return cmd
}

type userCreateConfig struct {
	email         string
	password      string
	passwordStdin bool
	inactive      bool
}

func newUserCreateCmd(deps *Deps) *cobra.Command {
	cfg := &userCreateConfig{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, cfg)
			if err != nil {
				return err
			}
			return withAuthStack(cmd, deps, func(ctx context.Context, stack *authStack) error {
				user, err := stack.admin.Create(ctx, cfg.email, password, !cfg.inactive)
				if err != nil {
					return err
				}
				cmd.Printf("Created user %d (%s)\n", user.ID, user.SafeEmail())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&cfg.password, "password", "", "password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&cfg.passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	cmd.Flags().BoolVar(&cfg.inactive, "inactive", false, "create the account deactivated")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is registered above
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	return cmd
}

func readPassword(cmd *cobra.Command, cfg *userCreateConfig) (string, error) {
	if !cfg.passwordStdin {
		if cfg.password == "" {
			return "", oops.Code("PASSWORD_REQUIRED").Errorf("--password or --password-stdin is required")
		}
		return cfg.password, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("password on stdin is empty")
	}
	return password, nil
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, oops.Code("INVALID_USER_ID").With("user_id", arg).Errorf("user id must be a positive integer")
	}
	return id, nil
}

func newUserToggleCmd(deps *Deps, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " USER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withAuthStack(cmd, deps, func(ctx context.Context, stack *authStack) error {
				if verb == "activate" {
					if err := stack.admin.Activate(ctx, id); err != nil {
						return err
					}
					cmd.Printf("Activated user %d\n", id)
					return nil
				}
				dropped, err := stack.admin.Deactivate(ctx, id)
				if err != nil {
					return err
				}
				cmd.Printf("Deactivated user %d, dropped %d session(s)\n", id, dropped)
				return nil
			})
		},
	}
}

func newUserDeleteCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete USER_ID",
		Short: "Delete USER_ID and, by cascade, their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withAuthStack(cmd, deps, func(ctx context.Context, stack *authStack) error {
				if err := stack.admin.Delete(ctx, id); err != nil {
					return err
				}
				cmd.Printf("Deleted user %d\n", id)
				return nil
			})
		},
	}
}

// userFixture is the YAML document read by user import.
type userFixture struct {
	Users []struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Active   *bool  `yaml:"active"`
	} `yaml:"users"`
}

func readUserFixture(path string) (*userFixture, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, oops.Code("IMPORT_READ_FAILED").With("path", path).Wrap(err)
	}
	var fixture userFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, oops.Code("IMPORT_PARSE_FAILED").With("path", path).Wrap(err)
	}
	if len(fixture.Users) == 0 {
		return nil, oops.Code("IMPORT_EMPTY").With("path", path).Errorf("no users in fixture")
	}
	return &fixture, nil
}

func newUserImportCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Create the users listed in a YAML file",
		Long: `Create every user listed under "users:" in FILE. Each entry has email,
password and an optional active flag (default true). Emails that already
exist are skipped, so the import can be re-run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := readUserFixture(args[0])
			if err != nil {
				return err
			}
			return withAuthStack(cmd, deps, func(ctx context.Context, stack *authStack) error {
				var created, skipped int
				for i, entry := range fixture.Users {
					active := entry.Active == nil || *entry.Active
					_, err := stack.admin.Create(ctx, entry.Email, entry.Password, active)
					switch {
					case err == nil:
						created++
					case errors.Is(err, auth.ErrDuplicateEmail):
						skipped++
						cmd.Printf("Skipping %s: already exists\n", auth.MaskEmail(auth.NormalizeEmail(entry.Email)))
					default:
						return oops.Code("IMPORT_FAILED").With("entry", i).Wrap(err)
					}
				}
				cmd.Printf("Imported %d user(s), skipped %d\n", created, skipped)
				return nil
			})
		},
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for shavon.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "shavon"

// ConfigFileName is the default config file inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/shavon, falling back to
// $HOME/.config/shavon.
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, ConfigFileName), nil
}

func dir(env, homeRel string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", oops.Code("XDG_NO_HOME").Errorf("neither %s nor HOME is set", env)
	}
	return filepath.Join(home, homeRel, appName), nil
}

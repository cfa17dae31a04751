// Package config manages the on-disk configuration directory shared by
// both binaries and the flag/env-driven configuration structs for the
// ingress and egress commands. See SPEC_FULL.md §2 (Ambient Stack).
package config

import (
	"os"
	"path/filepath"
)

// AppName names the on-disk config directory, analogous to the retrieved
// ssh-ify project's own "ssh-ify" config directory name.
const AppName = "echtun"

// GetConfigDir returns the configuration directory for echtun, creating
// it if necessary. It follows the same platform conventions as the
// retrieved ssh-ify project: XDG_CONFIG_HOME first, then APPDATA on
// Windows, then ~/.config as the Unix-like fallback.
func GetConfigDir() (string, error) {
	var dir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, AppName)
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		dir = filepath.Join(appData, AppName)
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", AppName)
	} else {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetIPRangesPath returns the path where the IPv4 or IPv6 bypass_cn range
// file is persisted within the config directory.
func GetIPRangesPath(name string) (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppName = "mailthread"

	// ConfigFileEnv names an explicit config file and bypasses the
	// directory lookup.
	ConfigFileEnv = "MAILTHREAD_CONFIG"
)

// Dir is $XDG_CONFIG_HOME/mailthread, or ~/.config/mailthread when
// XDG_CONFIG_HOME is unset or not absolute.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home dir: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

func ConfigPath() (string, error) {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		return filepath.Clean(path), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ensureParent creates the directory holding path with owner-only access.
func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	return nil
}

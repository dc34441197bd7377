package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "expensetrack"

// ExpandPath resolves a leading ~ to the home directory and then expands
// $VAR references. Paths that cannot be resolved are returned as given.
func ExpandPath(path string) string {
	switch {
	case path == "":
		return path
	case path == "~":
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ConfigDir is $XDG_CONFIG_HOME/expensetrack, falling back to
// ~/.config/expensetrack. It holds config.yaml, .env and the Sheets token.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", "~/.config")
}

// DataDir is $XDG_DATA_HOME/expensetrack, falling back to
// ~/.local/share/expensetrack.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", "~/.local/share")
}

// DefaultDatabasePath is the SQLite database inside DataDir.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), appName+".db")
}

func xdgDir(env, fallback string) string {
	base := os.Getenv(env)
	if base == "" || !filepath.IsAbs(base) {
		base = ExpandPath(fallback)
	}
	return filepath.Join(base, appName)
}

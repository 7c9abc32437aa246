package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the directory kaggler keeps its files in.
const HomeEnv = "KAGGLER_HOME"

// Paths are the files and directories under the kaggler home.
type Paths struct {
	Home     string
	Config   string
	Logs     string
	Data     string
	Database string // default sqlite file when storage.path is unset
}

// ResolvePaths locates the kaggler home: $KAGGLER_HOME, else ~/.kaggler.
func ResolvePaths() (Paths, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return PathsAt(home), nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("locating home directory (set %s): %w", HomeEnv, err)
	}
	return PathsAt(filepath.Join(userHome, ".kaggler")), nil
}

// PathsAt lays out the standard paths under home.
func PathsAt(home string) Paths {
	data := filepath.Join(home, "data")
	return Paths{
		Home:     home,
		Config:   filepath.Join(home, "config.yaml"),
		Logs:     filepath.Join(home, "logs"),
		Data:     data,
		Database: filepath.Join(data, "kaggler.db"),
	}
}

// DatabasePath resolves storage.path. Empty selects the default database,
// "~/" is the user's home and other relative paths sit under the data
// directory. ":memory:" passes through.
func (p Paths) DatabasePath(s StorageConfig) string {
	switch {
	case s.Path == "":
		return p.Database
	case s.Path == ":memory:" || filepath.IsAbs(s.Path):
		return s.Path
	case strings.HasPrefix(s.Path, "~/"):
		if userHome, err := os.UserHomeDir(); err == nil {
			return filepath.Join(userHome, s.Path[2:])
		}
		return s.Path
	default:
		return filepath.Join(p.Data, s.Path)
	}
}

// EnsureDirs creates the home, log and data directories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Home, p.Logs, p.Data} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

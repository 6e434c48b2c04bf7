// Package storage resolves where the hub keeps its configuration, feature
// databases and runtime state, honoring the XDG base directory variables.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const appName = "xyzhub"

// Dirs holds the per-user hub directories.
type Dirs struct {
	Config string // config.yaml
	Data   string // feature databases (sqlite file, badger directory)
	State  string // logs and lock files
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories. The result is cached.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = &Dirs{
			Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
			Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
			State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
		}
	})
	return globalDirs
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// ConfigFile is the default location of the hub configuration file.
func (d *Dirs) ConfigFile() string {
	return filepath.Join(d.Config, "config.yaml")
}

// DataDir joins subpath onto the data directory.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// BackupDir is where snapshots of the sqlite store are written.
func (d *Dirs) BackupDir() string {
	return d.StateDir("backups")
}

// ResolvePath turns a configured storage path into an absolute location.
// Relative paths land in the data directory; "~/" is expanded.
func (d *Dirs) ResolvePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return d.DataDir(path)
}

// EnsureDir creates path with perm, defaulting to 0700.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureAll creates the data and state directories.
func (d *Dirs) EnsureAll() error {
	for _, dir := range []string{d.Data, d.State, d.StateDir("logs")} {
		if err := EnsureDir(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

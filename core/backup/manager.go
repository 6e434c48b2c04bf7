// Package backup takes consistent snapshots of the SQLite feature store and
// restores them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/heremaps/xyz-hub-sub023/core/database"
)

const (
	DefaultKeep = 5
	extension   = ".db"
	stampFormat = "20060102T150405.000000000Z"
)

var (
	ErrBackupNotFound = errors.New("backup: not found")
	ErrOutsideDir     = errors.New("backup: path outside backup directory")
	ErrInvalidLabel   = errors.New("backup: label must be non-empty and contain no '-' or path separator")
)

type Config struct {
	Dir string

	// Keep is how many backups per label survive a new backup. Zero uses
	// DefaultKeep; negative keeps all.
	Keep int

	Now func() time.Time
}

type Manager struct {
	dir  string
	keep int
	now  func() time.Time
	mu   sync.Mutex
}

// Info describes one backup file. Names are <label>-<UTC timestamp>.db.
type Info struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewManager(cfg Config) *Manager {
	keep := cfg.Keep
	if keep == 0 {
		keep = DefaultKeep
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{dir: cfg.Dir, keep: keep, now: now}
}

func (m *Manager) Dir() string {
	return m.dir
}

// Backup writes a snapshot of pool with VACUUM INTO, which is consistent
// while other connections keep writing, then prunes older backups with the
// same label.
func (m *Manager) Backup(ctx context.Context, pool *database.Pool, label string) (Info, error) {
	if label == "" || strings.ContainsAny(label, "-/\\") {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create backup dir: %w", err)
	}

	created := m.now().UTC()
	name := label + "-" + created.Format(stampFormat) + extension
	path := filepath.Join(m.dir, name)

	if _, err := pool.Exec(ctx, "VACUUM INTO ?", path); err != nil {
		os.Remove(path)
		return Info{}, fmt.Errorf("vacuum into %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	if err := m.prune(label); err != nil {
		return Info{}, fmt.Errorf("retention cleanup: %w", err)
	}
	return Info{Name: name, Label: label, Path: path, Size: info.Size(), CreatedAt: created}, nil
}

func (m *Manager) prune(label string) error {
	if m.keep < 0 {
		return nil
	}
	backups, err := m.List()
	if err != nil {
		return err
	}

	kept := 0
	for _, b := range backups {
		if b.Label != label {
			continue
		}
		kept++
		if kept > m.keep {
			if err := os.Remove(b.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns all backups, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var backups []Info
	for _, entry := range entries {
		info, ok := parseName(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		stat, err := entry.Info()
		if err != nil {
			continue
		}
		info.Path = filepath.Join(m.dir, entry.Name())
		info.Size = stat.Size()
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func parseName(name string) (Info, bool) {
	base, ok := strings.CutSuffix(name, extension)
	if !ok {
		return Info{}, false
	}
	label, stamp, ok := strings.Cut(base, "-")
	if !ok {
		return Info{}, false
	}
	created, err := time.Parse(stampFormat, stamp)
	if err != nil {
		return Info{}, false
	}
	return Info{Name: name, Label: label, CreatedAt: created}, true
}

// Latest returns the newest backup, or ErrBackupNotFound.
func (m *Manager) Latest() (Info, error) {
	backups, err := m.List()
	if err != nil {
		return Info{}, err
	}
	if len(backups) == 0 {
		return Info{}, ErrBackupNotFound
	}
	return backups[0], nil
}

// Restore replaces the database file at dest with the backup at path. No
// pool may have dest open. Stale WAL and shared-memory files are removed so
// SQLite does not replay them over the restored pages.
func (m *Manager) Restore(path, dest string) error {
	if err := m.contains(path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, path)
	}
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".restore"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dest + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Rename(tmp, dest)
}

func (m *Manager) Delete(path string) error {
	if err := m.contains(path); err != nil {
		return err
	}
	return os.Remove(path)
}

func (m *Manager) contains(path string) error {
	absDir, err := filepath.Abs(m.dir)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if filepath.Dir(absPath) != absDir {
		return fmt.Errorf("%w: %s", ErrOutsideDir, path)
	}
	return nil
}

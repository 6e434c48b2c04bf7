// Package config loads the hub configuration: built-in defaults, then a YAML
// file, then HUB_* environment variables. The active configuration is
// swapped atomically and subscribers are notified on every reload.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

var (
	ErrUnknownBackend  = errors.New("config: unknown storage backend")
	ErrUnknownLogLevel = errors.New("config: unknown log level")
	ErrInvalidEngine   = errors.New("config: invalid engine settings")
	ErrInvalidPattern  = errors.New("config: invalid error pattern")
)

type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Engine      EngineConfig      `yaml:"engine"`
	Log         LogConfig         `yaml:"log"`
	Spaces      []feature.Space   `yaml:"spaces"`
	Permissions PermissionsConfig `yaml:"permissions"`

	// Errors tunes how untyped backend errors are classified, and so which
	// of them are retried.
	Errors hubErrors.ClassifierConfig `yaml:"errors"`
}

type StorageConfig struct {
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	SyncWrites  bool          `yaml:"sync_writes"`

	// BackupDir defaults to <state dir>/backups. BackupKeep is the number of
	// backups kept per label; negative keeps all.
	BackupDir  string `yaml:"backup_dir"`
	BackupKeep int    `yaml:"backup_keep"`
}

type EngineConfig struct {
	Parallelism   int           `yaml:"parallelism"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	DefaultAuthor string        `yaml:"default_author"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PermissionsConfig struct {
	// SuperWrites lists glob patterns of base space ids that may be written
	// through an extension with the SUPER space context.
	SuperWrites []string `yaml:"super_writes"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     BackendSQLite,
			Path:        "hub.db",
			BusyTimeout: 5 * time.Second,
			SyncWrites:  true,
			BackupKeep:  5,
		},
		Engine: EngineConfig{
			WriteTimeout:  10 * time.Second,
			DefaultAuthor: "anonymous",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Errors: *hubErrors.DefaultClassifierConfig(),
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Engine.Parallelism < 0 || c.Engine.WriteTimeout < 0 {
		return fmt.Errorf("%w: parallelism=%d write_timeout=%s", ErrInvalidEngine, c.Engine.Parallelism, c.Engine.WriteTimeout)
	}
	if _, err := hubErrors.NewClassifierFromConfig(&c.Errors); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLogLevel, s)
	}
}

// NewLogger builds the process logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type Manager struct {
	path      string
	current   atomic.Pointer[Config]
	logger    *slog.Logger
	watchers  []func(*Config)
	watcherMu sync.RWMutex
	stopWatch chan struct{}
	watchOnce sync.Once
}

// NewManager serves defaults until Load is called. path is the YAML file to
// read; a missing file is not an error.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:      path,
		logger:    logger,
		stopWatch: make(chan struct{}),
	}
	m.current.Store(DefaultConfig())
	return m
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadYAMLFile(cfg); err != nil {
		return fmt.Errorf("config file %s: %w", m.path, err)
	}
	if err := applyEnvironment(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

func (m *Manager) loadYAMLFile(cfg *Config) error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) error {
	if v := os.Getenv("HUB_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("HUB_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("HUB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HUB_ENGINE_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HUB_ENGINE_PARALLELISM: %w", err)
		}
		cfg.Engine.Parallelism = n
	}
	if v := os.Getenv("HUB_ENGINE_WRITE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HUB_ENGINE_WRITE_TIMEOUT: %w", err)
		}
		cfg.Engine.WriteTimeout = d
	}
	return nil
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

// Watch reloads the configuration whenever the file is written, created or
// renamed into place, until ctx ends or Close is called. A reload that fails
// is logged and the previous configuration stays active.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(m.path), err)
	}

	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopWatch:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(event, target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) handleEvent(event fsnotify.Event, target string) {
	if filepath.Clean(event.Name) != target {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if err := m.Reload(); err != nil {
		m.logger.Warn("config reload failed", "path", m.path, "error", err)
		return
	}
	m.logger.Info("config reloaded", "path", m.path)
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}

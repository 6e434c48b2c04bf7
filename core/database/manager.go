// Package database opens SQLite pools for the feature store and applies
// schema migrations tracked through PRAGMA user_version.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrPoolClosed = errors.New("database: pool is closed")

type Pool struct {
	db     *sql.DB
	path   string
	config PoolConfig
	mu     sync.RWMutex
}

type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
	SyncWrites  bool

	// ImmediateTx makes every transaction take the database write lock on
	// BEGIN, so a read-verify-write sequence cannot interleave with another.
	ImmediateTx bool
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     4,
		MaxIdle:     2,
		MaxLifetime: time.Hour,
		BusyTimeout: 5 * time.Second,
		SyncWrites:  true,
		ImmediateTx: true,
	}
}

// Open creates the parent directory if needed and returns a pinged pool.
func Open(path string, config PoolConfig) (*Pool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, config))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{db: db, path: path, config: config}, nil
}

func buildDSN(path string, config PoolConfig) string {
	synchronous := "NORMAL"
	if config.SyncWrites {
		synchronous = "FULL"
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=%s",
		path,
		int(config.BusyTimeout.Milliseconds()),
		synchronous,
	)
	if config.ImmediateTx {
		dsn += "&_txlock=immediate"
	}
	return dsn
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

func (p *Pool) Path() string {
	return p.path
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Pool) handle() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db, nil
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	return db.QueryRowContext(ctx, query, args...), nil
}

// Transaction runs fn inside a transaction, committing when fn returns nil.
func (p *Pool) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := p.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Pool) Version(ctx context.Context) (int, error) {
	row, err := p.QueryRow(ctx, "PRAGMA user_version")
	if err != nil {
		return 0, err
	}
	var version int
	err = row.Scan(&version)
	return version, err
}

func (p *Pool) IntegrityCheck(ctx context.Context) error {
	row, err := p.QueryRow(ctx, "PRAGMA integrity_check")
	if err != nil {
		return err
	}
	var result string
	if err := row.Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

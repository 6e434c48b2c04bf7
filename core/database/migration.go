package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Statements builds a migration step from plain DDL.
func Statements(stmts ...string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

type Migrator struct {
	pool       *Pool
	migrations []Migration
}

func NewMigrator(pool *Pool, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return &Migrator{
		pool:       pool,
		migrations: sorted,
	}
}

// Migrate applies every migration newer than the recorded user_version and
// returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	currentVersion, err := m.pool.Version(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		applied++
	}

	return applied, nil
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	return m.pool.Transaction(ctx, func(tx *sql.Tx) error {
		if err := migration.Up(tx); err != nil {
			return err
		}

		_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version))
		return err
	})
}

func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	return m.pool.Version(ctx)
}

func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	currentVersion, err := m.pool.Version(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if migration.Version > currentVersion {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

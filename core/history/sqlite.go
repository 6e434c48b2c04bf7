package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/heremaps/xyz-hub-sub023/core/database"
	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

// Migrations creates the head and history tables.
var Migrations = []database.Migration{
	{
		Version:     1,
		Description: "feature heads and history",
		Up: database.Statements(
			`CREATE TABLE IF NOT EXISTS features (
				space_id   TEXT    NOT NULL,
				feature_id TEXT    NOT NULL,
				version    INTEGER NOT NULL CHECK (version > 0),
				action     TEXT    NOT NULL,
				document   BLOB    NOT NULL,
				PRIMARY KEY (space_id, feature_id)
			)`,
			`CREATE TABLE IF NOT EXISTS feature_history (
				space_id   TEXT    NOT NULL,
				feature_id TEXT    NOT NULL,
				version    INTEGER NOT NULL CHECK (version > 0),
				action     TEXT    NOT NULL,
				document   BLOB    NOT NULL,
				PRIMARY KEY (space_id, feature_id, version)
			)`,
		),
	},
	{
		Version:     2,
		Description: "history lookup by space",
		Up: database.Statements(
			`CREATE INDEX IF NOT EXISTS idx_feature_history_space ON feature_history (space_id, version)`,
		),
	},
}

// SQLiteAdapter stores rows in a SQLite database. Writes run in immediate
// transactions so the head read and the head update see the same state.
type SQLiteAdapter struct {
	pool *database.Pool
}

// OpenSQLite opens path, applies pending migrations and returns the adapter.
func OpenSQLite(ctx context.Context, path string, config database.PoolConfig) (*SQLiteAdapter, error) {
	config.ImmediateTx = true
	pool, err := database.Open(path, config)
	if err != nil {
		return nil, hubErrors.StorageFailure("open sqlite store", err)
	}
	if _, err := database.NewMigrator(pool, Migrations).Migrate(ctx); err != nil {
		pool.Close()
		return nil, hubErrors.StorageFailure("migrate sqlite store", err)
	}
	return &SQLiteAdapter{pool: pool}, nil
}

func (a *SQLiteAdapter) Pool() *database.Pool {
	return a.pool
}

func (a *SQLiteAdapter) ReadHead(ctx context.Context, spaceID, featureID string) (*feature.Feature, error) {
	row, err := a.pool.QueryRow(ctx,
		`SELECT document FROM features WHERE space_id = ? AND feature_id = ?`, spaceID, featureID)
	if err != nil {
		return nil, wrapSQLite("read head", err)
	}
	return scanDocument(row)
}

func (a *SQLiteAdapter) ReadHistory(ctx context.Context, spaceID, featureID string, version int64) (*feature.Feature, error) {
	row, err := a.pool.QueryRow(ctx,
		`SELECT document FROM features WHERE space_id = ? AND feature_id = ? AND version = ?
		 UNION ALL
		 SELECT document FROM feature_history WHERE space_id = ? AND feature_id = ? AND version = ?
		 LIMIT 1`,
		spaceID, featureID, version, spaceID, featureID, version)
	if err != nil {
		return nil, wrapSQLite("read history", err)
	}
	return scanDocument(row)
}

func (a *SQLiteAdapter) WriteHead(ctx context.Context, w HeadWrite) (int64, error) {
	if w.Feature == nil {
		return 0, ErrNilFeature
	}

	var next int64
	err := a.pool.Transaction(ctx, func(tx *sql.Tx) error {
		head, headDoc, err := readHeadTx(ctx, tx, w.SpaceID, w.Feature.ID)
		if err != nil {
			return err
		}
		if err := checkPrior(w.ExpectedPrior, head); err != nil {
			return err
		}
		if w.ExpectedBase != nil {
			baseHead, _, err := readHeadTx(ctx, tx, w.ExpectedBase.SpaceID, w.Feature.ID)
			if err != nil {
				return err
			}
			if err := checkBase(w.ExpectedBase, baseHead); err != nil {
				return err
			}
		}

		next = head.Version() + 1
		stored := w.Feature.Clone()
		stored.Meta.Version = next
		doc, err := encodeFeature(stored)
		if err != nil {
			return err
		}

		if head != nil && retainsHistory(w.VersionsToKeep) {
			if err := archiveHeadTx(ctx, tx, w.SpaceID, head, headDoc, next, w.VersionsToKeep); err != nil {
				return err
			}
		}

		if head == nil {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO features (space_id, feature_id, version, action, document) VALUES (?, ?, ?, ?, ?)`,
				w.SpaceID, stored.ID, next, stored.Meta.Action.String(), doc)
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE features SET version = ?, action = ?, document = ?
			 WHERE space_id = ? AND feature_id = ? AND version = ?`,
			next, stored.Meta.Action.String(), doc, w.SpaceID, stored.ID, head.Version())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ErrVersionMismatch
		}
		return nil
	})
	if err != nil {
		return 0, wrapSQLite("write head", err)
	}

	w.Feature.Meta.Version = next
	return next, nil
}

func (a *SQLiteAdapter) Close() error {
	return a.pool.Close()
}

func readHeadTx(ctx context.Context, tx *sql.Tx, spaceID, featureID string) (*feature.Feature, []byte, error) {
	var doc []byte
	err := tx.QueryRowContext(ctx,
		`SELECT document FROM features WHERE space_id = ? AND feature_id = ?`, spaceID, featureID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	head, err := decodeFeature(doc)
	return head, doc, err
}

func archiveHeadTx(ctx context.Context, tx *sql.Tx, spaceID string, head *feature.Feature, doc []byte, next int64, versionsToKeep int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO feature_history (space_id, feature_id, version, action, document) VALUES (?, ?, ?, ?, ?)`,
		spaceID, head.ID, head.Version(), head.Meta.Action.String(), doc)
	if err != nil {
		return fmt.Errorf("archive version %d: %w", head.Version(), err)
	}
	if versionsToKeep == feature.UnboundedVersions {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM feature_history WHERE space_id = ? AND feature_id = ? AND version < ?`,
		spaceID, head.ID, oldestRetained(next, versionsToKeep))
	return err
}

func scanDocument(row *sql.Row) (*feature.Feature, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLite("scan document", err)
	}
	return decodeFeature(doc)
}

// wrapSQLite maps driver errors onto hub error kinds. Constraint violations on
// the head primary key mean a concurrent insert won the race.
func wrapSQLite(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return hubErrors.StorageFailure(op, fmt.Errorf("%v: %w", err, ErrVersionMismatch))
		case sqlite3.ErrConstraintCheck:
			return hubErrors.Wrap(hubErrors.KindInvariantViolation, op, err)
		}
		if sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB {
			return hubErrors.Wrap(hubErrors.KindInvariantViolation, op, err)
		}
	}
	return hubErrors.Wrap(hubErrors.KindStorageFailure, op, err)
}

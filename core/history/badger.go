package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool

	// Logger receives badger's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerAdapter stores heads and history rows as keys in one badger
// database. Head writes run in a single transaction; a concurrent writer to
// the same head makes the commit fail with badger.ErrConflict.
type BadgerAdapter struct {
	db     *badger.DB
	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

func OpenBadger(cfg BadgerConfig) (*BadgerAdapter, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, hubErrors.IllegalArgument("badger: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, hubErrors.StorageFailure("create badger directory", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, hubErrors.StorageFailure("open badger database", err)
	}

	a := &BadgerAdapter{db: db, stop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		a.wg.Add(1)
		go a.runGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return a, nil
}

func (a *BadgerAdapter) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			for {
				err := a.db.RunValueLogGC(ratio)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
					logger.Warn("badger value log gc failed", "error", err)
				}
				break
			}
		}
	}
}

const (
	headPrefix    = 'h'
	historyPrefix = 'v'
)

func headKey(spaceID, featureID string) []byte {
	return rowPrefix(headPrefix, spaceID, featureID)
}

func historyKey(spaceID, featureID string, version int64) []byte {
	key := rowPrefix(historyPrefix, spaceID, featureID)
	return binary.BigEndian.AppendUint64(key, uint64(version))
}

func rowPrefix(kind byte, spaceID, featureID string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kind)
	buf.WriteByte(0)
	buf.WriteString(spaceID)
	buf.WriteByte(0)
	buf.WriteString(featureID)
	buf.WriteByte(0)
	return buf.Bytes()
}

func (a *BadgerAdapter) ReadHead(ctx context.Context, spaceID, featureID string) (*feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var head *feature.Feature
	err := a.db.View(func(txn *badger.Txn) error {
		var err error
		head, err = getFeature(txn, headKey(spaceID, featureID))
		return err
	})
	if err != nil {
		return nil, wrapBadger("read head", err)
	}
	return head, nil
}

func (a *BadgerAdapter) ReadHistory(ctx context.Context, spaceID, featureID string, version int64) (*feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *feature.Feature
	err := a.db.View(func(txn *badger.Txn) error {
		head, err := getFeature(txn, headKey(spaceID, featureID))
		if err != nil || head == nil {
			return err
		}
		if head.Version() == version {
			out = head
			return nil
		}
		out, err = getFeature(txn, historyKey(spaceID, featureID, version))
		return err
	})
	if err != nil {
		return nil, wrapBadger("read history", err)
	}
	return out, nil
}

func (a *BadgerAdapter) WriteHead(ctx context.Context, w HeadWrite) (int64, error) {
	if w.Feature == nil {
		return 0, ErrNilFeature
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var next int64
	err := a.db.Update(func(txn *badger.Txn) error {
		key := headKey(w.SpaceID, w.Feature.ID)
		head, err := getFeature(txn, key)
		if err != nil {
			return err
		}
		if err := checkPrior(w.ExpectedPrior, head); err != nil {
			return err
		}
		// Reading the base head inside the transaction also registers it for
		// badger's conflict detection at commit.
		if w.ExpectedBase != nil {
			baseHead, err := getFeature(txn, headKey(w.ExpectedBase.SpaceID, w.Feature.ID))
			if err != nil {
				return err
			}
			if err := checkBase(w.ExpectedBase, baseHead); err != nil {
				return err
			}
		}

		if head != nil && retainsHistory(w.VersionsToKeep) {
			if err := a.archiveHead(txn, w.SpaceID, head, w.VersionsToKeep); err != nil {
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
		if err := ctx.Err(); err != nil {
			return err
		}
		return txn.Set(key, doc)
	})
	if err != nil {
		return 0, wrapBadger("write head", err)
	}

	w.Feature.Meta.Version = next
	return next, nil
}

func (a *BadgerAdapter) archiveHead(txn *badger.Txn, spaceID string, head *feature.Feature, versionsToKeep int) error {
	doc, err := encodeFeature(head)
	if err != nil {
		return err
	}
	if err := txn.Set(historyKey(spaceID, head.ID, head.Version()), doc); err != nil {
		return err
	}
	if versionsToKeep == feature.UnboundedVersions {
		return nil
	}

	floor := oldestRetained(head.Version()+1, versionsToKeep)
	prefix := rowPrefix(historyPrefix, spaceID, head.ID)
	var stale [][]byte

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		version := int64(binary.BigEndian.Uint64(key[len(prefix):]))
		if version >= floor {
			break
		}
		stale = append(stale, key)
	}
	it.Close()

	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (a *BadgerAdapter) Close() error {
	var err error
	a.closed.Do(func() {
		close(a.stop)
		a.wg.Wait()
		err = a.db.Close()
	})
	return err
}

func getFeature(txn *badger.Txn, key []byte) (*feature.Feature, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeFeature(doc)
}

func wrapBadger(op string, err error) error {
	switch {
	case errors.Is(err, badger.ErrConflict):
		return hubErrors.StorageFailure(op, fmt.Errorf("%v: %w", err, ErrVersionMismatch))
	case errors.Is(err, badger.ErrDBClosed):
		return hubErrors.StorageFailure(op, ErrAdapterClosed)
	}
	return hubErrors.Wrap(hubErrors.KindStorageFailure, op, err)
}

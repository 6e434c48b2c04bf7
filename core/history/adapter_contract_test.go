package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub023/core/database"
	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

type adapterFactory func(t *testing.T) Adapter

func adapterFactories() map[string]adapterFactory {
	return map[string]adapterFactory{
		"memory": func(t *testing.T) Adapter {
			return NewMemoryAdapter()
		},
		"sqlite": func(t *testing.T) Adapter {
			a, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "hub.db"), database.DefaultPoolConfig())
			require.NoError(t, err)
			return a
		},
		"badger": func(t *testing.T) Adapter {
			a, err := OpenBadger(InMemoryBadgerConfig())
			require.NoError(t, err)
			return a
		},
	}
}

func forEachAdapter(t *testing.T, fn func(t *testing.T, a Adapter)) {
	for name, factory := range adapterFactories() {
		t.Run(name, func(t *testing.T) {
			a := factory(t)
			t.Cleanup(func() { a.Close() })
			fn(t, a)
		})
	}
}

func row(id string, props map[string]any) *feature.Feature {
	f := feature.New(id, props)
	f.Meta.Action = feature.ActionCreate
	return f
}

func TestAdapterInsertAndRead(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()

		head, err := a.ReadHead(ctx, "s", "f1")
		require.NoError(t, err)
		assert.Nil(t, head)

		f := row("f1", map[string]any{"name": "a"})
		f.Geometry = feature.NewPoint(8.5, 50.1)
		v, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: f, ExpectedPrior: 0, VersionsToKeep: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		assert.Equal(t, int64(1), f.Meta.Version)

		head, err = a.ReadHead(ctx, "s", "f1")
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, int64(1), head.Version())
		assert.Equal(t, "a", head.Properties["name"])
		assert.True(t, head.Geometry.Equal(feature.NewPoint(8.5, 50.1)))

		other, err := a.ReadHead(ctx, "other", "f1")
		require.NoError(t, err)
		assert.Nil(t, other, "spaces do not share rows")
	})
}

func TestAdapterCompareAndSwap(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()

		_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 0, VersionsToKeep: 1})
		require.NoError(t, err)

		_, err = a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 0, VersionsToKeep: 1})
		require.Error(t, err)
		assert.True(t, hubErrors.Is(err, ErrVersionMismatch))
		assert.True(t, hubErrors.IsRetryable(err))

		_, err = a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 5, VersionsToKeep: 1})
		assert.True(t, hubErrors.Is(err, ErrVersionMismatch))

		v, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 1, VersionsToKeep: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		v, err = a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: NoPriorCheck, VersionsToKeep: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)
	})
}

func TestAdapterHistoryRetention(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()

		for i := 1; i <= 4; i++ {
			_, err := a.WriteHead(ctx, HeadWrite{
				SpaceID:        "s",
				Feature:        row("f1", map[string]any{"n": i}),
				ExpectedPrior:  int64(i - 1),
				VersionsToKeep: 3,
			})
			require.NoError(t, err)
		}

		for version, want := range map[int64]int{4: 4, 3: 3, 2: 2} {
			snap, err := a.ReadHistory(ctx, "s", "f1", version)
			require.NoError(t, err)
			require.NotNil(t, snap, "version %d", version)
			assert.Equal(t, version, snap.Version())
			assert.True(t, feature.ValuesEqual(want, snap.Properties["n"]), "version %d: %v", version, snap.Properties["n"])
		}

		snap, err := a.ReadHistory(ctx, "s", "f1", 1)
		require.NoError(t, err)
		assert.Nil(t, snap, "version 1 is outside the window")
	})
}

func TestAdapterNoHistoryWhenKeepingOne(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()

		_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 0, VersionsToKeep: 1})
		require.NoError(t, err)
		_, err = a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 1, VersionsToKeep: 1})
		require.NoError(t, err)

		snap, err := a.ReadHistory(ctx, "s", "f1", 1)
		require.NoError(t, err)
		assert.Nil(t, snap)

		snap, err = a.ReadHistory(ctx, "s", "f1", 2)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(2), snap.Version())
	})
}

func TestAdapterUnboundedHistory(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()

		for i := int64(0); i < 6; i++ {
			_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: i, VersionsToKeep: feature.UnboundedVersions})
			require.NoError(t, err)
		}
		snap, err := a.ReadHistory(ctx, "s", "f1", 1)
		require.NoError(t, err)
		require.NotNil(t, snap)
	})
}

func TestAdapterTombstoneRoundTrip(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()

		_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", map[string]any{"a": "x"}), ExpectedPrior: 0, VersionsToKeep: 1})
		require.NoError(t, err)

		tomb := row("f1", map[string]any{"a": "x"}).Tombstone()
		_, err = a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: tomb, ExpectedPrior: 1, VersionsToKeep: 1})
		require.NoError(t, err)

		head, err := a.ReadHead(ctx, "s", "f1")
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.True(t, head.IsTombstone())
		assert.Equal(t, int64(2), head.Version())
	})
}

func TestAdapterConcurrentWritersOneWins(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()
		_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 0, VersionsToKeep: 1})
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), ExpectedPrior: 1, VersionsToKeep: 1})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, hubErrors.IsRetryable(err), "loser must see a retryable error: %v", err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		head, err := a.ReadHead(ctx, "s", "f1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), head.Version())
	})
}

func TestAdapterBaseCheck(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()
		_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "b", Feature: row("f1", nil), ExpectedPrior: 0, VersionsToKeep: 1})
		require.NoError(t, err)
		_, err = a.WriteHead(ctx, HeadWrite{SpaceID: "b", Feature: row("f1", nil), ExpectedPrior: 1, VersionsToKeep: 1})
		require.NoError(t, err)

		_, err = a.WriteHead(ctx, HeadWrite{
			SpaceID: "e", Feature: row("f1", nil), ExpectedBase: &BaseCheck{SpaceID: "b", Version: 1}, VersionsToKeep: 1,
		})
		require.Error(t, err)
		assert.True(t, hubErrors.Is(err, ErrVersionMismatch))
		assert.True(t, hubErrors.IsRetryable(err))
		head, err := a.ReadHead(ctx, "e", "f1")
		require.NoError(t, err)
		assert.Nil(t, head)

		_, err = a.WriteHead(ctx, HeadWrite{
			SpaceID: "e", Feature: row("f2", nil), ExpectedBase: &BaseCheck{SpaceID: "b", Version: 1}, VersionsToKeep: 1,
		})
		assert.True(t, hubErrors.Is(err, ErrVersionMismatch), "a base row that never existed is version 0")

		v, err := a.WriteHead(ctx, HeadWrite{
			SpaceID: "e", Feature: row("f1", nil), ExpectedBase: &BaseCheck{SpaceID: "b", Version: 2}, VersionsToKeep: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		v, err = a.WriteHead(ctx, HeadWrite{
			SpaceID: "e", Feature: row("f2", nil), ExpectedBase: &BaseCheck{SpaceID: "b"}, VersionsToKeep: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})
}

func TestAdapterLargeIntegers(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx := context.Background()
		const big int64 = 9007199254740993

		_, err := a.WriteHead(ctx, HeadWrite{
			SpaceID: "s", Feature: row("f1", map[string]any{"big": big, "nested": map[string]any{"ids": []any{big}}}), VersionsToKeep: 1,
		})
		require.NoError(t, err)

		head, err := a.ReadHead(ctx, "s", "f1")
		require.NoError(t, err)
		assert.True(t, feature.ValuesEqual(big, head.Properties["big"]))
		assert.False(t, feature.ValuesEqual(big-1, head.Properties["big"]))
		assert.True(t, feature.ValuesEqual(map[string]any{"ids": []any{big}}, head.Properties["nested"]))
	})
}

func TestAdapterCanceledContext(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: row("f1", nil), VersionsToKeep: 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)

		head, err := a.ReadHead(context.Background(), "s", "f1")
		require.NoError(t, err)
		assert.Nil(t, head)
	})
}

func TestAdapterNilFeature(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, a Adapter) {
		_, err := a.WriteHead(context.Background(), HeadWrite{SpaceID: "s"})
		assert.ErrorIs(t, err, ErrNilFeature)
	})
}

func TestMemoryAdapterReturnsCopies(t *testing.T) {
	a := NewMemoryAdapter()
	ctx := context.Background()

	f := row("f1", map[string]any{"a": "x"})
	_, err := a.WriteHead(ctx, HeadWrite{SpaceID: "s", Feature: f, VersionsToKeep: 1})
	require.NoError(t, err)
	f.Properties["a"] = "mutated"

	head, err := a.ReadHead(ctx, "s", "f1")
	require.NoError(t, err)
	head.Properties["a"] = "also mutated"

	again, err := a.ReadHead(ctx, "s", "f1")
	require.NoError(t, err)
	assert.Equal(t, "x", again.Properties["a"])
}

func TestMemoryAdapterClosed(t *testing.T) {
	a := NewMemoryAdapter()
	require.NoError(t, a.Close())

	_, err := a.ReadHead(context.Background(), "s", "f1")
	assert.ErrorIs(t, err, ErrAdapterClosed)
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	require.Error(t, err)
	assert.Equal(t, hubErrors.KindIllegalArgument, hubErrors.KindOf(err))
}

func TestOldestRetained(t *testing.T) {
	assert.Equal(t, int64(3), oldestRetained(5, 3))
	assert.Equal(t, int64(0), oldestRetained(5, feature.UnboundedVersions))
}

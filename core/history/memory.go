package history

import (
	"context"
	"sync"

	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

type rowKey struct {
	space string
	id    string
}

type memoryRow struct {
	head    *feature.Feature
	history map[int64]*feature.Feature
}

// MemoryAdapter keeps rows in process memory. A single mutex serializes
// writes, which stands in for the row lock a database would take.
type MemoryAdapter struct {
	mu     sync.RWMutex
	rows   map[rowKey]*memoryRow
	closed bool
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{rows: make(map[rowKey]*memoryRow)}
}

func (m *MemoryAdapter) ReadHead(ctx context.Context, spaceID, featureID string) (*feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrAdapterClosed
	}

	row, ok := m.rows[rowKey{spaceID, featureID}]
	if !ok {
		return nil, nil
	}
	return row.head.Clone(), nil
}

func (m *MemoryAdapter) ReadHistory(ctx context.Context, spaceID, featureID string, version int64) (*feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrAdapterClosed
	}

	row, ok := m.rows[rowKey{spaceID, featureID}]
	if !ok {
		return nil, nil
	}
	if row.head.Version() == version {
		return row.head.Clone(), nil
	}
	return row.history[version].Clone(), nil
}

func (m *MemoryAdapter) WriteHead(ctx context.Context, w HeadWrite) (int64, error) {
	if w.Feature == nil {
		return 0, ErrNilFeature
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrAdapterClosed
	}

	key := rowKey{w.SpaceID, w.Feature.ID}
	row := m.rows[key]
	var head *feature.Feature
	if row != nil {
		head = row.head
	}
	if err := checkPrior(w.ExpectedPrior, head); err != nil {
		return 0, err
	}
	if w.ExpectedBase != nil {
		var baseHead *feature.Feature
		if base := m.rows[rowKey{w.ExpectedBase.SpaceID, w.Feature.ID}]; base != nil {
			baseHead = base.head
		}
		if err := checkBase(w.ExpectedBase, baseHead); err != nil {
			return 0, err
		}
	}

	if row == nil {
		row = &memoryRow{history: make(map[int64]*feature.Feature)}
		m.rows[key] = row
	}
	if head != nil && retainsHistory(w.VersionsToKeep) {
		row.history[head.Version()] = head
		pruneVersions(row.history, head.Version()+1, w.VersionsToKeep)
	}

	next := head.Version() + 1
	stored := w.Feature.Clone()
	stored.Meta.Version = next
	row.head = stored
	w.Feature.Meta.Version = next
	return next, nil
}

func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.rows = nil
	return nil
}

func retainsHistory(versionsToKeep int) bool {
	return versionsToKeep != feature.DefaultVersionsToKeep && versionsToKeep != 0
}

// pruneVersions drops history rows that fall outside the retention window
// counted back from the head version.
func pruneVersions(rows map[int64]*feature.Feature, headVersion int64, versionsToKeep int) {
	floor := oldestRetained(headVersion, versionsToKeep)
	for v := range rows {
		if v < floor {
			delete(rows, v)
		}
	}
}

// oldestRetained is the lowest version kept when headVersion is current.
// The head itself counts towards the window.
func oldestRetained(headVersion int64, versionsToKeep int) int64 {
	if versionsToKeep == feature.UnboundedVersions {
		return 0
	}
	return headVersion - int64(versionsToKeep) + 1
}

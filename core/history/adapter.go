// Package history persists one head row and zero or more history rows per
// feature and assigns versions. Backends implement Adapter; Store adds
// metadata stamping and table-effect classification on top.
package history

import (
	"context"
	"fmt"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

// NoPriorCheck disables the compare-and-swap on the head version.
const NoPriorCheck int64 = -1

var (
	// ErrVersionMismatch is returned when the head changed between the read
	// used for resolution and the write. The intent can be retried.
	ErrVersionMismatch = hubErrors.New(hubErrors.KindStorageFailure, "history: head version mismatch")
	ErrAdapterClosed   = hubErrors.New(hubErrors.KindStorageFailure, "history: adapter is closed")

	// ErrSnapshotMissing means a version a caller based its write on is no
	// longer retained, so a three-way merge cannot be computed.
	ErrSnapshotMissing = hubErrors.New(hubErrors.KindInvariantViolation, "history: snapshot missing")
	ErrNilFeature      = hubErrors.New(hubErrors.KindIllegalArgument, "history: feature is required")
)

// HeadWrite is one physical head write.
type HeadWrite struct {
	SpaceID string
	Feature *feature.Feature

	// ExpectedPrior is the head version the caller resolved against; 0 means
	// no head row may exist yet. NoPriorCheck skips the comparison.
	ExpectedPrior int64

	// ExpectedBase, when set, pins the base space head a first layered write
	// was resolved against. The write fails with ErrVersionMismatch if the
	// base row moved in the meantime.
	ExpectedBase *BaseCheck

	VersionsToKeep int
}

// BaseCheck names a base space head version. Version 0 means the base had no
// row for the feature.
type BaseCheck struct {
	SpaceID string
	Version int64
}

// Adapter is the storage boundary. ReadHead and ReadHistory return a nil
// feature and a nil error when the row does not exist. WriteHead must
// atomically verify ExpectedPrior and ExpectedBase, retain the previous head as history when
// VersionsToKeep != 1, and store the new head with version prior+1, which it
// returns.
type Adapter interface {
	ReadHead(ctx context.Context, spaceID, featureID string) (*feature.Feature, error)
	ReadHistory(ctx context.Context, spaceID, featureID string, version int64) (*feature.Feature, error)
	WriteHead(ctx context.Context, w HeadWrite) (int64, error)
	Close() error
}

func checkPrior(expected int64, head *feature.Feature) error {
	if expected == NoPriorCheck {
		return nil
	}
	if head.Version() != expected {
		return fmt.Errorf("expected version %d, found %d: %w", expected, head.Version(), ErrVersionMismatch)
	}
	return nil
}

func checkBase(expected *BaseCheck, baseHead *feature.Feature) error {
	if expected == nil {
		return nil
	}
	if baseHead.Version() != expected.Version {
		return fmt.Errorf("expected base %s at version %d, found %d: %w",
			expected.SpaceID, expected.Version, baseHead.Version(), ErrVersionMismatch)
	}
	return nil
}

package history

import (
	"context"
	"log/slog"
	"time"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

// Target is the space a write lands in, as seen by the resolver.
type Target struct {
	Space feature.Space

	// Layered is set when the write goes into the extension layer of a
	// composite space.
	Layered bool

	// ShadowsBase is set when the base space has a row (live or tombstone)
	// for the feature, so a first row in the layer is an override.
	ShadowsBase bool

	// Base is the base head the resolution inherited from when the layer had
	// no own row. Writes re-check it together with the own head.
	Base *BaseCheck
}

type WriteOp struct {
	Target    Target
	FeatureID string

	// Content carries the properties and geometry to store. For tombstones
	// it may be nil, in which case the prior head's content is kept.
	Content   *feature.Feature
	Tombstone bool

	// Prior is the target space's own head the decision was based on.
	Prior  *feature.Feature
	Author string
}

type Written struct {
	Version int64
	Effect  TableEffect
	Feature *feature.Feature
}

type StoreConfig struct {
	Logger        *slog.Logger
	DefaultAuthor string
	Now           func() time.Time
}

// Store stamps metadata onto features, classifies the table effect and
// delegates the compare-and-swap write to an Adapter.
type Store struct {
	adapter       Adapter
	logger        *slog.Logger
	defaultAuthor string
	now           func() time.Time
}

func NewStore(adapter Adapter, cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		adapter:       adapter,
		logger:        logger,
		defaultAuthor: cfg.DefaultAuthor,
		now:           now,
	}
}

func (s *Store) Adapter() Adapter {
	return s.adapter
}

func (s *Store) ReadHead(ctx context.Context, spaceID, featureID string) (*feature.Feature, error) {
	head, err := s.adapter.ReadHead(ctx, spaceID, featureID)
	if err != nil {
		return nil, hubErrors.Wrap(hubErrors.KindStorageFailure, "read head "+spaceID+"/"+featureID, err)
	}
	return head, nil
}

// ReadVersion returns the snapshot of featureID at version in spaceID, or nil
// if that version is not retained.
func (s *Store) ReadVersion(ctx context.Context, spaceID, featureID string, version int64) (*feature.Feature, error) {
	if version <= 0 {
		return nil, nil
	}
	snap, err := s.adapter.ReadHistory(ctx, spaceID, featureID, version)
	if err != nil {
		return nil, hubErrors.Wrap(hubErrors.KindStorageFailure, "read history "+spaceID+"/"+featureID, err)
	}
	return snap, nil
}

func (s *Store) Write(ctx context.Context, op WriteOp) (Written, error) {
	if op.FeatureID == "" {
		return Written{}, hubErrors.IllegalArgument("history: feature id is required")
	}
	if op.Content == nil && !op.Tombstone {
		return Written{}, ErrNilFeature
	}

	row := s.stamp(op)
	version, err := s.adapter.WriteHead(ctx, HeadWrite{
		SpaceID:        op.Target.Space.ID,
		Feature:        row,
		ExpectedPrior:  op.Prior.Version(),
		ExpectedBase:   op.Target.Base,
		VersionsToKeep: op.Target.Space.Normalized().VersionsToKeep,
	})
	if err != nil {
		return Written{}, hubErrors.Wrap(hubErrors.KindStorageFailure, "write head", err)
	}
	row.Meta.Version = version

	effect := ClassifyEffect(op)
	s.logger.Debug("feature written",
		"space", op.Target.Space.ID,
		"feature", op.FeatureID,
		"version", version,
		"effect", effect.String())

	return Written{Version: version, Effect: effect, Feature: row}, nil
}

func (s *Store) stamp(op WriteOp) *feature.Feature {
	source := op.Content
	if source == nil {
		source = op.Prior
	}
	row := source.Clone()
	if row == nil {
		row = &feature.Feature{}
	}
	row.ID = op.FeatureID

	now := s.now().UTC()
	author := op.Author
	if author == "" {
		author = s.defaultAuthor
	}

	createdAt := now
	if op.Prior != nil && !op.Prior.Meta.CreatedAt.IsZero() {
		createdAt = op.Prior.Meta.CreatedAt
	}

	row.Meta = feature.Namespace{
		Version:   op.Prior.Version() + 1,
		Author:    author,
		CreatedAt: createdAt,
		UpdatedAt: now,
		Action:    stampAction(op),
		Space:     op.Target.Space.ID,
	}
	return row
}

func stampAction(op WriteOp) feature.Action {
	switch {
	case op.Tombstone:
		return feature.ActionDelete
	case op.Prior == nil || op.Prior.IsTombstone():
		return feature.ActionCreate
	default:
		return feature.ActionUpdate
	}
}

// ClassifyEffect reports the table effect a write has on its target.
//
// In an extension layer, the first row for a feature that exists in the base
// is an OVERRIDE_INSERT, and any later change of tombstone state in the
// layer is an OVERRIDE_UPDATE. Everywhere else tombstoning is a DELETE.
func ClassifyEffect(op WriteOp) TableEffect {
	if op.Prior == nil {
		if op.Target.Layered && op.Target.ShadowsBase {
			return EffectOverrideInsert
		}
		return EffectInsert
	}
	if op.Target.Layered {
		if op.Prior.IsTombstone() != op.Tombstone {
			return EffectOverrideUpdate
		}
		return EffectUpdate
	}
	if op.Tombstone {
		return EffectDelete
	}
	return EffectUpdate
}

// Package composite resolves which row of a feature is visible from a space,
// following at most one level of extension layering, and where a write for
// that feature has to land.
package composite

import (
	"context"

	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
	"github.com/heremaps/xyz-hub-sub023/core/history"
)

// State is the visible state of a feature id in a space.
type State int

const (
	StateAbsent State = iota
	// StatePresent is a live head row in a space resolved without layering.
	StatePresent
	StateOverride
	StateInherited
	StateTombstone
)

var stateNames = map[State]string{
	StateAbsent:    "absent",
	StatePresent:   "present",
	StateOverride:  "present-as-override",
	StateInherited: "present-as-inherited",
	StateTombstone: "present-as-tombstone",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Exists reports whether OnExists (rather than OnNotExists) governs a write.
func (s State) Exists() bool {
	return s == StatePresent || s == StateOverride || s == StateInherited
}

// Visible is the result of a resolution.
type Visible struct {
	State State

	// Feature is the visible row. It is nil when the state is absent and the
	// tombstone row when the state is present-as-tombstone.
	Feature *feature.Feature

	// Location is the id of the space Feature was read from.
	Location string

	// Target is where a write for this feature goes.
	Target history.Target

	// OwnHead is the target space's own head row, tombstones included. Writes
	// use its version as the compare-and-swap precondition.
	OwnHead *feature.Feature
}

// Version is the visible feature's version, or 0 when nothing is visible.
func (v Visible) Version() int64 {
	if !v.State.Exists() {
		return 0
	}
	return v.Feature.Version()
}

type SpaceProvider interface {
	Space(id string) (feature.Space, error)
}

type HeadReader interface {
	ReadHead(ctx context.Context, spaceID, featureID string) (*feature.Feature, error)
}

// Resolver never writes.
type Resolver struct {
	spaces SpaceProvider
	heads  HeadReader
}

func NewResolver(spaces SpaceProvider, heads HeadReader) *Resolver {
	return &Resolver{spaces: spaces, heads: heads}
}

// Resolve returns the state of featureID as seen from spaceID under sc.
//
// DEFAULT follows layering: the extension's own row wins whenever one exists,
// tombstones included; otherwise a live base row is inherited and a base
// tombstone is inherited as absence. EXTENSION looks only at the space's own
// storage and SUPER only at its base's.
func (r *Resolver) Resolve(ctx context.Context, spaceID, featureID string, sc feature.SpaceContext) (Visible, error) {
	space, err := r.space(spaceID)
	if err != nil {
		return Visible{}, err
	}

	switch sc {
	case feature.ContextDefault:
		if !space.IsComposite() {
			return r.resolvePlain(ctx, space, featureID, false)
		}
		return r.resolveLayered(ctx, space, featureID)
	case feature.ContextExtension:
		return r.resolvePlain(ctx, space, featureID, space.IsComposite())
	case feature.ContextSuper:
		if !space.IsComposite() {
			return Visible{}, hubErrors.Wrap(hubErrors.KindIllegalArgument, "super context on "+space.ID, feature.ErrSpaceNotComposite)
		}
		base, err := r.space(space.Extends)
		if err != nil {
			return Visible{}, err
		}
		return r.resolvePlain(ctx, base, featureID, false)
	default:
		return Visible{}, hubErrors.Wrap(hubErrors.KindIllegalArgument, "resolve "+featureID, feature.ErrUnknownSpaceContext)
	}
}

// resolvePlain reads only space's own head. A tombstone resolves as absent
// unless reportTombstone is set, but stays available as OwnHead.
func (r *Resolver) resolvePlain(ctx context.Context, space feature.Space, featureID string, reportTombstone bool) (Visible, error) {
	head, err := r.heads.ReadHead(ctx, space.ID, featureID)
	if err != nil {
		return Visible{}, err
	}

	v := Visible{
		Location: space.ID,
		Target:   history.Target{Space: space},
		OwnHead:  head,
	}
	switch {
	case head == nil:
		v.State = StateAbsent
	case head.IsTombstone() && reportTombstone:
		v.State = StateTombstone
		v.Feature = head
	case head.IsTombstone():
		v.State = StateAbsent
	default:
		v.State = StatePresent
		v.Feature = head
	}
	return v, nil
}

func (r *Resolver) resolveLayered(ctx context.Context, space feature.Space, featureID string) (Visible, error) {
	own, err := r.heads.ReadHead(ctx, space.ID, featureID)
	if err != nil {
		return Visible{}, err
	}
	if own != nil {
		state := StateOverride
		if own.IsTombstone() {
			state = StateTombstone
		}
		return Visible{
			State:    state,
			Feature:  own,
			Location: space.ID,
			Target:   history.Target{Space: space, Layered: true, ShadowsBase: true},
			OwnHead:  own,
		}, nil
	}

	base, err := r.space(space.Extends)
	if err != nil {
		return Visible{}, err
	}
	inherited, err := r.heads.ReadHead(ctx, base.ID, featureID)
	if err != nil {
		return Visible{}, err
	}

	v := Visible{
		State:    StateAbsent,
		Location: space.ID,
		Target: history.Target{
			Space:       space,
			Layered:     true,
			ShadowsBase: inherited != nil,
			Base:        &history.BaseCheck{SpaceID: base.ID, Version: inherited.Version()},
		},
	}
	if inherited != nil && !inherited.IsTombstone() {
		v.State = StateInherited
		v.Feature = inherited
		v.Location = base.ID
	}
	return v, nil
}

func (r *Resolver) space(id string) (feature.Space, error) {
	space, err := r.spaces.Space(id)
	if err != nil {
		return feature.Space{}, hubErrors.Wrap(hubErrors.KindIllegalArgument, "resolve space "+id, err)
	}
	return space.Normalized(), nil
}

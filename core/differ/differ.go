// Package differ implements the attribute-level three-way merge used to
// reconcile a caller's write with a concurrent change, and the merge-patch
// used by PATCH writes. Everything here is pure.
package differ

import (
	"sort"
	"strings"

	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

// Mode selects what happens on a conflicting path.
type Mode int

const (
	// ModeStrict reports conflicting paths and produces no merged feature.
	ModeStrict Mode = iota
	// ModePreferInput resolves every conflicting path to the input's value
	// while still carrying forward non-conflicting head changes.
	ModePreferInput
)

func (m Mode) String() string {
	if m == ModePreferInput {
		return "prefer-input"
	}
	return "strict"
}

// Result of a merge. Merged is nil when Conflicts is non-empty in strict
// mode. In prefer-input mode Conflicts lists the paths the input won.
type Result struct {
	Merged    *feature.Feature
	Conflicts []feature.Path
}

func (r Result) Clean() bool {
	return len(r.Conflicts) == 0
}

// ConflictStrings renders the conflicting paths for diagnostics.
func (r Result) ConflictStrings() []string {
	out := make([]string, len(r.Conflicts))
	for i, p := range r.Conflicts {
		out[i] = p.String()
	}
	return out
}

type Differ struct {
	mode Mode
}

func New(mode Mode) *Differ {
	return &Differ{mode: mode}
}

// Diff merges input into head relative to base. Any of the three may be nil,
// which is treated as an empty feature. Paths are visited in sorted order so
// the conflict list is deterministic.
func Diff(base, head, input *feature.Feature) Result {
	return New(ModeStrict).Diff(base, head, input)
}

func (d *Differ) Diff(base, head, input *feature.Feature) Result {
	m := &merge{mode: d.mode}

	geometry := m.mergeGeometry(geometryOf(base), geometryOf(head), geometryOf(input))
	props, present := m.mergeValue(
		feature.Path{feature.PropertiesRoot},
		side{propertiesOf(base), true},
		side{propertiesOf(head), true},
		side{propertiesOf(input), true},
	)

	if len(m.conflicts) > 0 && d.mode == ModeStrict {
		return Result{Conflicts: m.conflicts}
	}

	merged := &feature.Feature{ID: mergedID(head, input), Geometry: geometry}
	if head != nil {
		merged.Meta = head.Meta
	}
	if present {
		if pm, ok := props.(map[string]any); ok && len(pm) > 0 {
			merged.Properties = pm
		}
	}
	return Result{Merged: merged, Conflicts: m.conflicts}
}

type side struct {
	value   any
	present bool
}

func (s side) equal(other side) bool {
	if s.present != other.present {
		return false
	}
	return !s.present || feature.ValuesEqual(s.value, other.value)
}

func (s side) asMap() (map[string]any, bool) {
	if !s.present {
		return nil, true
	}
	m, ok := s.value.(map[string]any)
	return m, ok
}

type merge struct {
	mode      Mode
	conflicts []feature.Path
}

func (m *merge) mergeValue(path feature.Path, base, head, input side) (any, bool) {
	if m.isObjectNode(base, head, input) {
		return m.mergeObject(path, base, head, input)
	}
	return m.mergeLeaf(path, base, head, input)
}

// isObjectNode reports whether the node is merged key by key: head and input
// must both hold objects and base must hold an object or nothing.
func (m *merge) isObjectNode(base, head, input side) bool {
	if !head.present || !input.present {
		return false
	}
	for _, s := range []side{base, head, input} {
		if _, ok := s.asMap(); !ok {
			return false
		}
	}
	return true
}

func (m *merge) mergeObject(path feature.Path, base, head, input side) (any, bool) {
	bm, _ := base.asMap()
	hm, _ := head.asMap()
	im, _ := input.asMap()

	out := make(map[string]any)
	for _, key := range unionKeys(bm, hm, im) {
		v, ok := m.mergeValue(path.Child(key), lookup(bm, key), lookup(hm, key), lookup(im, key))
		if ok {
			out[key] = v
		}
	}
	return out, true
}

func (m *merge) mergeLeaf(path feature.Path, base, head, input side) (any, bool) {
	switch {
	case head.equal(base):
		return pick(input)
	case input.equal(base):
		return pick(head)
	case head.equal(input):
		return pick(head)
	}

	m.conflicts = append(m.conflicts, path)
	return pick(input)
}

func (m *merge) mergeGeometry(base, head, input *feature.Geometry) *feature.Geometry {
	switch {
	case head.Equal(base):
		return input.Clone()
	case input.Equal(base):
		return head.Clone()
	case head.Equal(input):
		return head.Clone()
	}

	m.conflicts = append(m.conflicts, feature.GeometryPath())
	return input.Clone()
}

func pick(s side) (any, bool) {
	if !s.present {
		return nil, false
	}
	return feature.CloneValue(s.value), true
}

func lookup(m map[string]any, key string) side {
	v, ok := m[key]
	return side{v, ok}
}

func unionKeys(maps ...map[string]any) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func propertiesOf(f *feature.Feature) map[string]any {
	if f == nil || f.Properties == nil {
		return map[string]any{}
	}
	return f.Properties
}

func geometryOf(f *feature.Feature) *feature.Geometry {
	if f == nil {
		return nil
	}
	return f.Geometry
}

func mergedID(head, input *feature.Feature) string {
	if input != nil && strings.TrimSpace(input.ID) != "" {
		return input.ID
	}
	if head != nil {
		return head.ID
	}
	return ""
}

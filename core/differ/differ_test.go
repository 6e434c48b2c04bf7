package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

func props(kv map[string]any) *feature.Feature {
	return feature.New("f1", kv)
}

func paths(r Result) []string {
	return r.ConflictStrings()
}

func TestDiffInputWinsWhenHeadUntouched(t *testing.T) {
	base := props(map[string]any{"x": 1, "y": "a"})
	head := props(map[string]any{"x": 1, "y": "a"})
	input := props(map[string]any{"x": 5})

	r := Diff(base, head, input)
	require.True(t, r.Clean())
	assert.Equal(t, map[string]any{"x": 5}, r.Merged.Properties)
}

func TestDiffCarriesConcurrentHeadChange(t *testing.T) {
	base := props(map[string]any{"x": 1})
	head := props(map[string]any{"x": 2})
	input := props(map[string]any{"x": 1, "y": 9})

	r := Diff(base, head, input)
	require.True(t, r.Clean())
	assert.Equal(t, 2, r.Merged.Properties["x"])
	assert.Equal(t, 9, r.Merged.Properties["y"])
}

func TestDiffSameChangeOnBothSides(t *testing.T) {
	base := props(map[string]any{"x": 1})
	head := props(map[string]any{"x": 2})
	input := props(map[string]any{"x": float64(2)})

	r := Diff(base, head, input)
	require.True(t, r.Clean(), "int 2 and float 2 are the same JSON number")
	assert.True(t, feature.ValuesEqual(2, r.Merged.Properties["x"]))
}

func TestDiffConflict(t *testing.T) {
	base := props(map[string]any{"x": 1, "z": 0})
	head := props(map[string]any{"x": 2, "z": 5})
	input := props(map[string]any{"x": 3, "z": 0})

	r := Diff(base, head, input)
	assert.False(t, r.Clean())
	assert.Nil(t, r.Merged, "no partial merge")
	assert.Equal(t, []string{"properties.x"}, paths(r))
}

func TestDiffPreferInput(t *testing.T) {
	base := props(map[string]any{"x": 1, "z": 0})
	head := props(map[string]any{"x": 2, "z": 5})
	input := props(map[string]any{"x": 3, "z": 0})

	r := New(ModePreferInput).Diff(base, head, input)
	require.NotNil(t, r.Merged)
	assert.Equal(t, []string{"properties.x"}, paths(r))
	assert.Equal(t, 3, r.Merged.Properties["x"])
	assert.Equal(t, 5, r.Merged.Properties["z"], "disjoint head change is kept")
}

func TestDiffNestedObjects(t *testing.T) {
	base := props(map[string]any{"addr": map[string]any{"city": "Berlin", "zip": "10115"}})
	head := props(map[string]any{"addr": map[string]any{"city": "Berlin", "zip": "10117"}})
	input := props(map[string]any{"addr": map[string]any{"city": "Bonn", "zip": "10115"}})

	r := Diff(base, head, input)
	require.True(t, r.Clean())
	assert.Equal(t, map[string]any{"city": "Bonn", "zip": "10117"}, r.Merged.Properties["addr"])

	input = props(map[string]any{"addr": map[string]any{"city": "Berlin", "zip": "99999"}})
	r = Diff(base, head, input)
	assert.Equal(t, []string{"properties.addr.zip"}, paths(r))
}

func TestDiffDeletionIsAChange(t *testing.T) {
	base := props(map[string]any{"x": 1, "y": 1})
	head := props(map[string]any{"x": 1, "y": 2})
	input := props(map[string]any{"y": 1})

	r := Diff(base, head, input)
	require.True(t, r.Clean())
	_, hasX := r.Merged.Properties["x"]
	assert.False(t, hasX, "input removed x")
	assert.Equal(t, 2, r.Merged.Properties["y"])

	input = props(map[string]any{"x": 1})
	r = Diff(base, head, input)
	assert.Equal(t, []string{"properties.y"}, paths(r), "remove vs modify conflicts")
}

func TestDiffObjectReplacedByScalar(t *testing.T) {
	base := props(map[string]any{"a": map[string]any{"b": 1}})
	head := props(map[string]any{"a": "flat"})
	input := props(map[string]any{"a": map[string]any{"b": 2}})

	r := Diff(base, head, input)
	assert.Equal(t, []string{"properties.a"}, paths(r))
}

func TestDiffArraysAreLeaves(t *testing.T) {
	base := props(map[string]any{"tags": []any{"a"}})
	head := props(map[string]any{"tags": []any{"a", "b"}})
	input := props(map[string]any{"tags": []any{"a", "c"}})

	r := Diff(base, head, input)
	assert.Equal(t, []string{"properties.tags"}, paths(r))
}

func TestDiffGeometryIsAtomic(t *testing.T) {
	base := props(nil)
	base.Geometry = feature.NewPoint(1, 1)
	head := props(nil)
	head.Geometry = feature.NewPoint(1, 2)
	input := props(nil)
	input.Geometry = feature.NewPoint(2, 1)

	r := Diff(base, head, input)
	assert.Equal(t, []string{"geometry"}, paths(r))

	input.Geometry = feature.NewPoint(1, 2)
	r = Diff(base, head, input)
	require.True(t, r.Clean(), "equal coordinates never conflict")

	input.Geometry = feature.NewPoint(1, 1)
	r = Diff(base, head, input)
	require.True(t, r.Clean())
	assert.True(t, r.Merged.Geometry.Equal(feature.NewPoint(1, 2)))
}

func TestDiffDisjointChangesCommute(t *testing.T) {
	base := props(map[string]any{"a": 1, "b": 1, "n": map[string]any{"c": 1, "d": 1}})
	left := props(map[string]any{"a": 2, "b": 1, "n": map[string]any{"c": 2, "d": 1}})
	right := props(map[string]any{"a": 1, "b": 3, "n": map[string]any{"c": 1, "d": 3}, "e": true})

	lr := Diff(base, left, right)
	rl := Diff(base, right, left)
	require.True(t, lr.Clean())
	require.True(t, rl.Clean())
	assert.True(t, feature.ValuesEqual(lr.Merged.Properties, rl.Merged.Properties))
	assert.True(t, feature.ValuesEqual(map[string]any{
		"a": 2, "b": 3, "n": map[string]any{"c": 2, "d": 3}, "e": true,
	}, lr.Merged.Properties))
}

func TestDiffConflictSymmetry(t *testing.T) {
	base := props(map[string]any{"a": 1, "b": 1, "c": 1, "d": 1})
	base.Geometry = feature.NewPoint(0, 0)
	head := props(map[string]any{"a": 2, "b": 2, "c": 1, "d": 5})
	head.Geometry = feature.NewPoint(0, 1)
	input := props(map[string]any{"a": 3, "b": 2, "c": 4, "d": 6})
	input.Geometry = feature.NewPoint(1, 0)

	forward := Diff(base, head, input)
	backward := Diff(base, input, head)
	assert.ElementsMatch(t, paths(forward), paths(backward))
	assert.ElementsMatch(t, []string{"geometry", "properties.a", "properties.d"}, paths(forward))
}

func TestDiffNilSides(t *testing.T) {
	input := props(map[string]any{"x": 1})
	r := Diff(nil, nil, input)
	require.True(t, r.Clean())
	assert.Equal(t, map[string]any{"x": 1}, r.Merged.Properties)
	assert.Equal(t, "f1", r.Merged.ID)
}

func TestDiffKeepsHeadMeta(t *testing.T) {
	head := props(map[string]any{"x": 1})
	head.Meta.Version = 7
	r := Diff(head, head, props(map[string]any{"x": 2}))
	require.True(t, r.Clean())
	assert.Equal(t, int64(7), r.Merged.Meta.Version)
}

func TestDiffDoesNotAliasInputs(t *testing.T) {
	nested := map[string]any{"k": "v"}
	input := props(map[string]any{"n": nested})
	r := Diff(nil, nil, input)
	require.True(t, r.Clean())

	r.Merged.Properties["n"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", nested["k"])
}

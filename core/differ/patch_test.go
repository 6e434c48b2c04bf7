package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

func TestPatch(t *testing.T) {
	head := feature.New("f1", map[string]any{
		"name": "old",
		"keep": true,
		"addr": map[string]any{"city": "Berlin", "zip": "10115"},
		"drop": 1,
	})
	head.Geometry = feature.NewPoint(1, 1)

	input := feature.New("", map[string]any{
		"name": "new",
		"addr": map[string]any{"zip": "10117"},
		"drop": nil,
	})

	out := Patch(head, input, false)
	assert.Equal(t, map[string]any{
		"name": "new",
		"keep": true,
		"addr": map[string]any{"city": "Berlin", "zip": "10117"},
	}, out.Properties)
	assert.Equal(t, "f1", out.ID)
	assert.True(t, out.Geometry.Equal(feature.NewPoint(1, 1)))
	assert.Equal(t, "old", head.Properties["name"], "head is not modified")
}

func TestPatchGeometry(t *testing.T) {
	head := feature.New("f1", nil)
	head.Geometry = feature.NewPoint(1, 1)

	input := feature.New("f1", nil)
	input.Geometry = feature.NewPoint(2, 2)
	assert.True(t, Patch(head, input, false).Geometry.Equal(feature.NewPoint(2, 2)))

	assert.Nil(t, Patch(head, feature.New("f1", nil), true).Geometry)
}

func TestPatchScalarOverObject(t *testing.T) {
	head := feature.New("f1", map[string]any{"a": map[string]any{"b": 1}})
	out := Patch(head, feature.New("f1", map[string]any{"a": "flat"}), false)
	assert.Equal(t, "flat", out.Properties["a"])

	out = Patch(feature.New("f1", map[string]any{"a": 1}), feature.New("f1", map[string]any{"a": map[string]any{"b": nil, "c": 2}}), false)
	assert.Equal(t, map[string]any{"c": 2}, out.Properties["a"])
}

func TestPatchNilHeadAndInput(t *testing.T) {
	out := Patch(nil, feature.New("f1", map[string]any{"x": 1}), false)
	assert.Equal(t, map[string]any{"x": 1}, out.Properties)

	head := feature.New("f1", map[string]any{"x": 1})
	assert.Equal(t, head.Properties, Patch(head, nil, false).Properties)
}

package spaces

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heremaps/xyz-hub-sub023/core/config"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

func TestRegistryFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Spaces = []feature.Space{
		{ID: "base", VersionsToKeep: 10},
		{ID: "overlay", Extends: "base"},
		{ID: "other"},
	}
	cfg.Permissions.SuperWrites = []string{"ba*"}

	r, err := FromConfig(cfg, nil)
	require.NoError(t, err)

	s, err := r.Space("overlay")
	require.NoError(t, err)
	assert.Equal(t, feature.DefaultVersionsToKeep, s.VersionsToKeep, "defaults are applied")
	assert.True(t, s.IsComposite())

	_, err = r.Space("missing")
	assert.ErrorIs(t, err, feature.ErrUnknownSpace)

	assert.True(t, r.AllowSuperWrite("base"))
	assert.False(t, r.AllowSuperWrite("other"))

	ids := make([]string, 0)
	for _, s := range r.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"base", "other", "overlay"}, ids)
	assert.Equal(t, []string{"overlay"}, r.Extensions("base"))
}

func TestRegistryRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name    string
		spaces  []feature.Space
		wantErr error
	}{
		{"missing id", []feature.Space{{}}, feature.ErrSpaceIDRequired},
		{"bad retention", []feature.Space{{ID: "a", VersionsToKeep: -2}}, feature.ErrInvalidRetention},
		{"self extension", []feature.Space{{ID: "a", Extends: "a"}}, feature.ErrSelfExtension},
		{"unknown base", []feature.Space{{ID: "a", Extends: "b"}}, feature.ErrUnknownBaseSpace},
		{"chain", []feature.Space{{ID: "a"}, {ID: "b", Extends: "a"}, {ID: "c", Extends: "b"}}, feature.ErrCompositeChain},
		{"duplicate", []feature.Space{{ID: "a"}, {ID: "a"}}, ErrDuplicateSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.Replace(tt.spaces, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistryReplaceIsAtomic(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Replace([]feature.Space{{ID: "a"}}, []string{"a"}))

	err := r.Replace([]feature.Space{{ID: "b"}}, []string{"[unterminated"})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = r.Space("a")
	assert.NoError(t, err, "failed replace keeps the old spaces")
	assert.True(t, r.AllowSuperWrite("a"))
}

func TestRegistryFollowsConfigReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("spaces:\n  - id: base\n")

	m := config.NewManager(path, nil)
	r := NewRegistry(nil)
	r.Watch(m)
	require.NoError(t, m.Load())

	_, err := r.Space("base")
	require.NoError(t, err)

	write("spaces:\n  - id: base\n  - id: overlay\n    extends: base\n")
	require.NoError(t, m.Reload())
	assert.Equal(t, []string{"overlay"}, r.Extensions("base"))

	write("spaces:\n  - id: overlay\n    extends: base\n")
	require.NoError(t, m.Reload())
	assert.Len(t, r.List(), 2, "rejected configuration keeps the previous spaces")
}

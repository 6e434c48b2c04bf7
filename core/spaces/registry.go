// Package spaces is the in-process space configuration service: it holds the
// space descriptors the engine resolves against and the glob rules for
// writing to a base space through an extension.
package spaces

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	"github.com/heremaps/xyz-hub-sub023/core/config"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
)

type Registry struct {
	mu     sync.RWMutex
	spaces map[string]feature.Space
	super  []glob.Glob
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{spaces: make(map[string]feature.Space), logger: logger}
}

// FromConfig builds a registry holding cfg's spaces and permissions.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if err := r.Replace(cfg.Spaces, cfg.Permissions.SuperWrites); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates and installs a complete set of descriptors. On error the
// registry is left unchanged.
func (r *Registry) Replace(descriptors []feature.Space, superWrites []string) error {
	spaces, err := buildSpaces(descriptors)
	if err != nil {
		return err
	}
	matchers, err := compileGlobs(superWrites)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.spaces = spaces
	r.super = matchers
	r.mu.Unlock()
	return nil
}

// Watch keeps the registry in sync with the configuration manager.
func (r *Registry) Watch(m *config.Manager) {
	m.OnChange(func(cfg *config.Config) {
		if err := r.Replace(cfg.Spaces, cfg.Permissions.SuperWrites); err != nil {
			r.logger.Warn("space configuration rejected, keeping previous spaces", "error", err)
			return
		}
		r.logger.Info("space configuration replaced", "spaces", len(cfg.Spaces))
	})
}

func buildSpaces(descriptors []feature.Space) (map[string]feature.Space, error) {
	spaces := make(map[string]feature.Space, len(descriptors))
	for _, s := range descriptors {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("space %q: %w", s.ID, err)
		}
		if _, dup := spaces[s.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSpace, s.ID)
		}
		spaces[s.ID] = s.Normalized()
	}

	for _, s := range spaces {
		if !s.IsComposite() {
			continue
		}
		base, ok := spaces[s.Extends]
		if !ok {
			return nil, fmt.Errorf("space %q: %w: %q", s.ID, feature.ErrUnknownBaseSpace, s.Extends)
		}
		if base.IsComposite() {
			return nil, fmt.Errorf("space %q: %w", s.ID, feature.ErrCompositeChain)
		}
	}
	return spaces, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, fmt.Errorf("%q: %w", pattern, err))
		}
		matchers = append(matchers, matcher)
	}
	return matchers, nil
}

func (r *Registry) Space(id string) (feature.Space, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spaces[id]
	if !ok {
		return feature.Space{}, fmt.Errorf("%w: %q", feature.ErrUnknownSpace, id)
	}
	return s, nil
}

// AllowSuperWrite reports whether baseSpaceID matches a super_writes glob.
func (r *Registry) AllowSuperWrite(baseSpaceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.super {
		if m.Match(baseSpaceID) {
			return true
		}
	}
	return false
}

// List returns all descriptors sorted by id.
func (r *Registry) List() []feature.Space {
	r.mu.RLock()
	out := make([]feature.Space, 0, len(r.spaces))
	for _, s := range r.spaces {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Extensions returns the ids of spaces that extend baseID.
func (r *Registry) Extensions(baseID string) []string {
	var ids []string
	for _, s := range r.List() {
		if s.Extends == baseID {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

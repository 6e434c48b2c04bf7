package feature

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultVersionsToKeep = 1
	// UnboundedVersions keeps every version of every feature.
	UnboundedVersions = -1
)

var (
	ErrSpaceIDRequired     = errors.New("space: id is required")
	ErrInvalidRetention    = errors.New("space: invalid versionsToKeep")
	ErrSelfExtension       = errors.New("space: a space cannot extend itself")
	ErrCompositeChain      = errors.New("space: extended space must not itself be composite")
	ErrUnknownBaseSpace    = errors.New("space: extended space does not exist")
	ErrUnknownSpace        = errors.New("space: not found")
	ErrSpaceNotComposite   = errors.New("space: space does not extend another space")
	ErrUnknownSpaceContext = errors.New("space: unknown space context")
)

// Space is the descriptor of a feature collection. Extends names at most one
// base space; layering is a runtime relationship between two descriptors.
type Space struct {
	ID             string `json:"id" yaml:"id"`
	Title          string `json:"title,omitempty" yaml:"title"`
	VersionsToKeep int    `json:"versionsToKeep" yaml:"versions_to_keep"`
	Extends        string `json:"extends,omitempty" yaml:"extends"`
}

func (s Space) IsComposite() bool {
	return s.Extends != ""
}

// KeepsHistory reports whether prior heads are retained as history rows.
func (s Space) KeepsHistory() bool {
	return s.VersionsToKeep != 1
}

// Normalized applies defaults without validating.
func (s Space) Normalized() Space {
	if s.VersionsToKeep == 0 {
		s.VersionsToKeep = DefaultVersionsToKeep
	}
	return s
}

func (s Space) Validate() error {
	if s.ID == "" {
		return ErrSpaceIDRequired
	}
	if s.VersionsToKeep < UnboundedVersions {
		return fmt.Errorf("%w: %d", ErrInvalidRetention, s.VersionsToKeep)
	}
	if s.Extends == s.ID {
		return fmt.Errorf("%w: %q", ErrSelfExtension, s.ID)
	}
	return nil
}

type SpaceContext int

const (
	// ContextDefault resolves through composite layering.
	ContextDefault SpaceContext = iota
	// ContextExtension reads and writes the space's own storage only.
	ContextExtension
	// ContextSuper reads and writes the base space only.
	ContextSuper
)

var spaceContextNames = map[SpaceContext]string{
	ContextDefault:   "DEFAULT",
	ContextExtension: "EXTENSION",
	ContextSuper:     "SUPER",
}

func (c SpaceContext) String() string {
	if name, ok := spaceContextNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

func ParseSpaceContext(s string) (SpaceContext, error) {
	if s == "" {
		return ContextDefault, nil
	}
	for ctx, name := range spaceContextNames {
		if strings.EqualFold(name, s) {
			return ctx, nil
		}
	}
	return ContextDefault, fmt.Errorf("%w: %q", ErrUnknownSpaceContext, s)
}

func (c SpaceContext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *SpaceContext) UnmarshalText(text []byte) error {
	parsed, err := ParseSpaceContext(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Package feature defines the documents stored in a space: a property map,
// an optional geometry and the hub-owned metadata namespace.
package feature

import (
	"strings"
	"time"
)

type Action int

const (
	ActionUnknown Action = iota
	ActionCreate
	ActionUpdate
	ActionDelete
)

var actionNames = map[Action]string{
	ActionCreate: "CREATE",
	ActionUpdate: "UPDATE",
	ActionDelete: "DELETE",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "UNKNOWN"
}

func ParseAction(s string) Action {
	for action, name := range actionNames {
		if strings.EqualFold(name, s) {
			return action
		}
	}
	return ActionUnknown
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	*a = ParseAction(string(text))
	return nil
}

// Namespace holds metadata owned by the hub. Values supplied by callers are
// overwritten on every write.
type Namespace struct {
	Version   int64     `json:"version"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Action    Action    `json:"action"`
	Space     string    `json:"space,omitempty"`
}

type Feature struct {
	ID         string         `json:"id"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Meta       Namespace      `json:"@ns:com:here:xyz"`
}

func New(id string, properties map[string]any) *Feature {
	return &Feature{ID: id, Properties: properties}
}

func (f *Feature) Version() int64 {
	if f == nil {
		return 0
	}
	return f.Meta.Version
}

// IsTombstone reports whether the row marks the feature deleted.
func (f *Feature) IsTombstone() bool {
	return f != nil && f.Meta.Action == ActionDelete
}

func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Geometry = f.Geometry.Clone()
	clone.Properties = CloneMap(f.Properties)
	return &clone
}

// Tombstone returns a copy of f marked deleted. The last known content is
// kept so the version chain can be inspected after deletion.
func (f *Feature) Tombstone() *Feature {
	t := f.Clone()
	t.Meta.Action = ActionDelete
	return t
}

func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

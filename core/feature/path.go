package feature

import (
	"math"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

const (
	PropertiesRoot = "properties"
	GeometryRoot   = "geometry"
)

// Path addresses one leaf of a feature, e.g. properties.address.city.
type Path []string

func PropertyPath(keys ...string) Path {
	return append(Path{PropertiesRoot}, keys...)
}

func GeometryPath() Path {
	return Path{GeometryRoot}
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

func (p Path) Child(key string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, key)
}

func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Path) UnmarshalText(text []byte) error {
	*p = strings.Split(string(text), ".")
	return nil
}

// Normalize rewrites every numeric value as int64 when it is integral and
// fits, and as float64 otherwise, so documents decoded from JSON compare equal
// to documents built in code. json.Number literals are parsed exactly, so
// integers beyond 2^53 keep their identity.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeFloat(e)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return t.String()
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}

// ValuesEqual compares two decoded JSON values structurally.
func ValuesEqual(a, b any) bool {
	return cmp.Equal(Normalize(a), Normalize(b))
}

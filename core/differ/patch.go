package differ

import "github.com/heremaps/xyz-hub-sub023/core/feature"

// Patch applies input on top of head as a JSON merge patch (RFC 7396) over
// the properties: present keys overwrite, null removes, nested objects
// recurse. A non-nil input geometry replaces head's; removeGeometry clears it.
// Patching never conflicts.
func Patch(head, input *feature.Feature, removeGeometry bool) *feature.Feature {
	out := head.Clone()
	if out == nil {
		out = &feature.Feature{}
	}
	if input == nil {
		return out
	}
	if input.ID != "" {
		out.ID = input.ID
	}

	if input.Properties != nil {
		merged := mergePatch(out.Properties, input.Properties)
		out.Properties, _ = merged.(map[string]any)
	}

	switch {
	case input.Geometry != nil:
		out.Geometry = input.Geometry.Clone()
	case removeGeometry:
		out.Geometry = nil
	}
	return out
}

func mergePatch(target any, patch any) any {
	pm, ok := patch.(map[string]any)
	if !ok {
		return feature.CloneValue(patch)
	}

	tm, _ := target.(map[string]any)
	tm = feature.CloneMap(tm)
	if tm == nil {
		tm = make(map[string]any, len(pm))
	}

	for k, v := range pm {
		if v == nil {
			delete(tm, k)
			continue
		}
		tm[k] = mergePatch(tm[k], v)
	}
	return tm
}

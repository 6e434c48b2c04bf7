package history

import "strings"

// TableEffect describes what a write physically did.
type TableEffect int

const (
	EffectNone TableEffect = iota
	EffectInsert
	EffectUpdate
	EffectDelete
	EffectOverrideInsert
	EffectOverrideUpdate
)

var tableEffectNames = map[TableEffect]string{
	EffectNone:           "NONE",
	EffectInsert:         "INSERT",
	EffectUpdate:         "UPDATE",
	EffectDelete:         "DELETE",
	EffectOverrideInsert: "OVERRIDE_INSERT",
	EffectOverrideUpdate: "OVERRIDE_UPDATE",
}

func (e TableEffect) String() string {
	if name, ok := tableEffectNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}

func ParseTableEffect(s string) TableEffect {
	for effect, name := range tableEffectNames {
		if strings.EqualFold(name, s) {
			return effect
		}
	}
	return EffectNone
}

func (e TableEffect) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *TableEffect) UnmarshalText(text []byte) error {
	*e = ParseTableEffect(string(text))
	return nil
}

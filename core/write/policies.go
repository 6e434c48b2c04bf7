package write

import (
	"fmt"
	"strings"
)

// Each policy's zero value means the caller did not declare it. Reaching a
// branch whose policy is unset is an IllegalArgument outcome.

type OnNotExists int

const (
	OnNotExistsUnset OnNotExists = iota
	OnNotExistsCreate
	OnNotExistsRetain
	OnNotExistsError
)

var onNotExistsNames = map[OnNotExists]string{
	OnNotExistsUnset:  "",
	OnNotExistsCreate: "CREATE",
	OnNotExistsRetain: "RETAIN",
	OnNotExistsError:  "ERROR",
}

type OnExists int

const (
	OnExistsUnset OnExists = iota
	OnExistsRetain
	OnExistsError
	OnExistsDelete
	OnExistsReplace
	OnExistsPatch
	OnExistsMerge
)

var onExistsNames = map[OnExists]string{
	OnExistsUnset:   "",
	OnExistsRetain:  "RETAIN",
	OnExistsError:   "ERROR",
	OnExistsDelete:  "DELETE",
	OnExistsReplace: "REPLACE",
	OnExistsPatch:   "PATCH",
	OnExistsMerge:   "MERGE",
}

type OnVersionConflict int

const (
	OnVersionConflictUnset OnVersionConflict = iota
	OnVersionConflictError
	OnVersionConflictRetain
	OnVersionConflictReplace
	OnVersionConflictMerge
)

var onVersionConflictNames = map[OnVersionConflict]string{
	OnVersionConflictUnset:   "",
	OnVersionConflictError:   "ERROR",
	OnVersionConflictRetain:  "RETAIN",
	OnVersionConflictReplace: "REPLACE",
	OnVersionConflictMerge:   "MERGE",
}

type OnMergeConflict int

const (
	OnMergeConflictUnset OnMergeConflict = iota
	OnMergeConflictError
	OnMergeConflictRetain
	OnMergeConflictReplace
)

var onMergeConflictNames = map[OnMergeConflict]string{
	OnMergeConflictUnset:   "",
	OnMergeConflictError:   "ERROR",
	OnMergeConflictRetain:  "RETAIN",
	OnMergeConflictReplace: "REPLACE",
}

func enumString[T comparable](names map[T]string, v T) string {
	if name, ok := names[v]; ok {
		if name == "" {
			return "UNSET"
		}
		return name
	}
	return "UNKNOWN"
}

func parseEnum[T comparable](kind string, names map[T]string, s string) (T, error) {
	s = strings.TrimSpace(s)
	for v, name := range names {
		if strings.EqualFold(name, s) {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s %q", ErrUnknownPolicy, kind, s)
}

func (p OnNotExists) String() string       { return enumString(onNotExistsNames, p) }
func (p OnExists) String() string          { return enumString(onExistsNames, p) }
func (p OnVersionConflict) String() string { return enumString(onVersionConflictNames, p) }
func (p OnMergeConflict) String() string   { return enumString(onMergeConflictNames, p) }

func ParseOnNotExists(s string) (OnNotExists, error) {
	return parseEnum("onNotExists", onNotExistsNames, s)
}

func ParseOnExists(s string) (OnExists, error) {
	return parseEnum("onExists", onExistsNames, s)
}

func ParseOnVersionConflict(s string) (OnVersionConflict, error) {
	return parseEnum("onVersionConflict", onVersionConflictNames, s)
}

func ParseOnMergeConflict(s string) (OnMergeConflict, error) {
	return parseEnum("onMergeConflict", onMergeConflictNames, s)
}

func (p OnNotExists) MarshalText() ([]byte, error) {
	return []byte(onNotExistsNames[p]), nil
}

func (p OnExists) MarshalText() ([]byte, error) {
	return []byte(onExistsNames[p]), nil
}

func (p OnVersionConflict) MarshalText() ([]byte, error) {
	return []byte(onVersionConflictNames[p]), nil
}

func (p OnMergeConflict) MarshalText() ([]byte, error) {
	return []byte(onMergeConflictNames[p]), nil
}

func (p *OnNotExists) UnmarshalText(text []byte) (err error) {
	*p, err = ParseOnNotExists(string(text))
	return err
}

func (p *OnExists) UnmarshalText(text []byte) (err error) {
	*p, err = ParseOnExists(string(text))
	return err
}

func (p *OnVersionConflict) UnmarshalText(text []byte) (err error) {
	*p, err = ParseOnVersionConflict(string(text))
	return err
}

func (p *OnMergeConflict) UnmarshalText(text []byte) (err error) {
	*p, err = ParseOnMergeConflict(string(text))
	return err
}

// Policies is the caller's declared reaction to each state a write can hit.
type Policies struct {
	OnNotExists       OnNotExists       `json:"onNotExists,omitempty"`
	OnExists          OnExists          `json:"onExists,omitempty"`
	OnVersionConflict OnVersionConflict `json:"onVersionConflict,omitempty"`
	OnMergeConflict   OnMergeConflict   `json:"onMergeConflict,omitempty"`
}

// Package conflict decides, for every write intent, which physical write (if
// any) resolves it given the feature's visible state and the caller's
// policies, and applies batches of intents through the history store.
package conflict

import (
	"fmt"

	"github.com/heremaps/xyz-hub-sub023/core/write"
)

// Action is what the engine does for an intent once the policies have been
// applied.
type Action int

const (
	// ActionFail ends the intent with Decision.Outcome and writes nothing.
	ActionFail Action = iota
	ActionRetain
	ActionCreate
	ActionDelete
	ActionReplace
	ActionPatch
	// ActionMerge merges the input against the head with the head as base.
	ActionMerge
	// ActionMergeWithBase runs a three-way merge against the snapshot at
	// the caller's base version.
	ActionMergeWithBase
)

var actionNames = map[Action]string{
	ActionFail:          "fail",
	ActionRetain:        "retain",
	ActionCreate:        "create",
	ActionDelete:        "delete",
	ActionReplace:       "replace",
	ActionPatch:         "patch",
	ActionMerge:         "merge",
	ActionMergeWithBase: "merge-with-base",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Writes reports whether the action produces a physical write.
func (a Action) Writes() bool {
	return a != ActionFail && a != ActionRetain
}

type Decision struct {
	Action  Action
	Outcome write.Outcome
	Reason  string
}

// Situation is everything the decision depends on besides the policies.
type Situation struct {
	// Exists is true for present, override and inherited states. Absent and
	// tombstoned features do not exist.
	Exists bool
	// VersionConflict is true when the caller declared a base version that
	// differs from the visible version.
	VersionConflict bool
	// Deletion is true when the intent carries no feature.
	Deletion bool
}

func proceed(a Action) Decision {
	return Decision{Action: a, Outcome: write.OutcomeWritten}
}

func retain() Decision {
	return Decision{Action: ActionRetain, Outcome: write.OutcomeRetained}
}

func fail(outcome write.Outcome, reason string) Decision {
	return Decision{Action: ActionFail, Outcome: outcome, Reason: reason}
}

func illegal(format string, args ...any) Decision {
	return fail(write.OutcomeIllegalArgument, fmt.Sprintf(format, args...))
}

// Decide maps a situation and the declared policies to exactly one decision.
// Every switch is exhaustive over its enum; the trailing default only catches
// values outside the declared constants.
func Decide(s Situation, p write.Policies) Decision {
	var d Decision
	switch {
	case !s.Exists:
		d = decideNotExists(p.OnNotExists)
	case s.VersionConflict:
		d = decideVersionConflict(p.OnVersionConflict, p.OnMergeConflict)
		if s.Deletion && d.Action == ActionReplace {
			// Last-write-wins with nothing to write is a tombstone.
			return proceed(ActionDelete)
		}
	default:
		d = decideExists(p.OnExists)
	}
	return checkDeletion(s, d)
}

func decideNotExists(p write.OnNotExists) Decision {
	switch p {
	case write.OnNotExistsCreate:
		return proceed(ActionCreate)
	case write.OnNotExistsRetain:
		return retain()
	case write.OnNotExistsError:
		return fail(write.OutcomeFeatureNotExists, "feature does not exist")
	case write.OnNotExistsUnset:
		return illegal("feature does not exist and onNotExists is not declared")
	default:
		return illegal("unknown onNotExists value %d", int(p))
	}
}

func decideExists(p write.OnExists) Decision {
	switch p {
	case write.OnExistsRetain:
		return retain()
	case write.OnExistsError:
		return fail(write.OutcomeFeatureExists, "feature exists")
	case write.OnExistsDelete:
		return proceed(ActionDelete)
	case write.OnExistsReplace:
		return proceed(ActionReplace)
	case write.OnExistsPatch:
		return proceed(ActionPatch)
	case write.OnExistsMerge:
		return proceed(ActionMerge)
	case write.OnExistsUnset:
		return illegal("feature exists and onExists is not declared")
	default:
		return illegal("unknown onExists value %d", int(p))
	}
}

func decideVersionConflict(p write.OnVersionConflict, onMerge write.OnMergeConflict) Decision {
	switch p {
	case write.OnVersionConflictError:
		return fail(write.OutcomeVersionConflict, "base version is not the current version")
	case write.OnVersionConflictRetain:
		return retain()
	case write.OnVersionConflictReplace:
		return proceed(ActionReplace)
	case write.OnVersionConflictMerge:
		if onMerge == write.OnMergeConflictUnset {
			return illegal("onVersionConflict is MERGE but onMergeConflict is not declared")
		}
		return proceed(ActionMergeWithBase)
	case write.OnVersionConflictUnset:
		return illegal("version conflict and onVersionConflict is not declared")
	default:
		return illegal("unknown onVersionConflict value %d", int(p))
	}
}

// DecideMergeConflict picks the reaction to a three-way merge that reported
// conflicting paths. ActionReplace means the input wins every conflicting
// path while the other concurrent changes are kept.
func DecideMergeConflict(p write.OnMergeConflict) Decision {
	switch p {
	case write.OnMergeConflictError:
		return fail(write.OutcomeMergeConflict, "concurrent changes conflict")
	case write.OnMergeConflictRetain:
		return retain()
	case write.OnMergeConflictReplace:
		return proceed(ActionReplace)
	case write.OnMergeConflictUnset:
		return illegal("merge conflict and onMergeConflict is not declared")
	default:
		return illegal("unknown onMergeConflict value %d", int(p))
	}
}

// checkDeletion rejects actions that need content when the intent has none.
func checkDeletion(s Situation, d Decision) Decision {
	if !s.Deletion {
		return d
	}
	switch d.Action {
	case ActionCreate, ActionReplace, ActionPatch, ActionMerge, ActionMergeWithBase:
		return illegal("intent carries no feature, cannot %s", d.Action)
	default:
		return d
	}
}

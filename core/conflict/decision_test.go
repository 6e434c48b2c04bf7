package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heremaps/xyz-hub-sub023/core/write"
)

func TestDecideNotExists(t *testing.T) {
	tests := []struct {
		policy write.OnNotExists
		action Action
		want   write.Outcome
	}{
		{write.OnNotExistsCreate, ActionCreate, write.OutcomeWritten},
		{write.OnNotExistsRetain, ActionRetain, write.OutcomeRetained},
		{write.OnNotExistsError, ActionFail, write.OutcomeFeatureNotExists},
		{write.OnNotExistsUnset, ActionFail, write.OutcomeIllegalArgument},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			d := Decide(Situation{}, write.Policies{OnNotExists: tt.policy, OnExists: write.OnExistsError})
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.want, d.Outcome)
		})
	}
}

func TestDecideExists(t *testing.T) {
	tests := []struct {
		policy write.OnExists
		action Action
		want   write.Outcome
	}{
		{write.OnExistsRetain, ActionRetain, write.OutcomeRetained},
		{write.OnExistsError, ActionFail, write.OutcomeFeatureExists},
		{write.OnExistsDelete, ActionDelete, write.OutcomeWritten},
		{write.OnExistsReplace, ActionReplace, write.OutcomeWritten},
		{write.OnExistsPatch, ActionPatch, write.OutcomeWritten},
		{write.OnExistsMerge, ActionMerge, write.OutcomeWritten},
		{write.OnExistsUnset, ActionFail, write.OutcomeIllegalArgument},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			d := Decide(Situation{Exists: true}, write.Policies{OnExists: tt.policy, OnNotExists: write.OnNotExistsError})
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.want, d.Outcome)
		})
	}
}

func TestDecideVersionConflictOverridesOnExists(t *testing.T) {
	s := Situation{Exists: true, VersionConflict: true}

	d := Decide(s, write.Policies{OnExists: write.OnExistsReplace, OnVersionConflict: write.OnVersionConflictError})
	assert.Equal(t, write.OutcomeVersionConflict, d.Outcome)

	d = Decide(s, write.Policies{OnExists: write.OnExistsReplace})
	assert.Equal(t, write.OutcomeIllegalArgument, d.Outcome, "OnExists is not a fallback for an undeclared OnVersionConflict")

	d = Decide(s, write.Policies{OnVersionConflict: write.OnVersionConflictMerge})
	assert.Equal(t, write.OutcomeIllegalArgument, d.Outcome, "MERGE needs OnMergeConflict")

	d = Decide(s, write.Policies{OnVersionConflict: write.OnVersionConflictMerge, OnMergeConflict: write.OnMergeConflictRetain})
	assert.Equal(t, ActionMergeWithBase, d.Action)
}

func TestDecideDeletionIntents(t *testing.T) {
	del := Situation{Exists: true, Deletion: true}

	assert.Equal(t, ActionDelete, Decide(del, write.Policies{OnExists: write.OnExistsDelete}).Action)
	assert.Equal(t, write.OutcomeIllegalArgument, Decide(del, write.Policies{OnExists: write.OnExistsReplace}).Outcome)
	assert.Equal(t, write.OutcomeIllegalArgument, Decide(del, write.Policies{OnExists: write.OnExistsPatch}).Outcome)
	assert.Equal(t, ActionRetain, Decide(del, write.Policies{OnExists: write.OnExistsRetain}).Action)

	conflicted := Situation{Exists: true, VersionConflict: true, Deletion: true}
	assert.Equal(t, ActionDelete, Decide(conflicted, write.Policies{OnVersionConflict: write.OnVersionConflictReplace}).Action)
	assert.Equal(t, write.OutcomeIllegalArgument, Decide(conflicted, write.Policies{
		OnVersionConflict: write.OnVersionConflictMerge,
		OnMergeConflict:   write.OnMergeConflictError,
	}).Outcome)

	absent := Situation{Deletion: true}
	assert.Equal(t, write.OutcomeIllegalArgument, Decide(absent, write.Policies{OnNotExists: write.OnNotExistsCreate}).Outcome)
	assert.Equal(t, write.OutcomeFeatureNotExists, Decide(absent, write.Policies{OnNotExists: write.OnNotExistsError}).Outcome)
}

func TestDecideMergeConflict(t *testing.T) {
	assert.Equal(t, write.OutcomeMergeConflict, DecideMergeConflict(write.OnMergeConflictError).Outcome)
	assert.Equal(t, ActionRetain, DecideMergeConflict(write.OnMergeConflictRetain).Action)
	assert.Equal(t, ActionReplace, DecideMergeConflict(write.OnMergeConflictReplace).Action)
	assert.Equal(t, write.OutcomeIllegalArgument, DecideMergeConflict(write.OnMergeConflictUnset).Outcome)
	assert.Equal(t, write.OutcomeIllegalArgument, DecideMergeConflict(write.OnMergeConflict(99)).Outcome)
}

var terminalFailures = map[write.Outcome]bool{
	write.OutcomeFeatureExists:    true,
	write.OutcomeFeatureNotExists: true,
	write.OutcomeVersionConflict:  true,
	write.OutcomeMergeConflict:    true,
	write.OutcomeIllegalArgument:  true,
}

// Every combination of state flags and policy values, including undeclared
// and out-of-range values, yields exactly one well-formed decision.
func TestDecidePolicyCompleteness(t *testing.T) {
	notExists := []write.OnNotExists{0, 1, 2, 3, 42}
	exists := []write.OnExists{0, 1, 2, 3, 4, 5, 6, 42}
	versionConflict := []write.OnVersionConflict{0, 1, 2, 3, 4, 42}
	mergeConflict := []write.OnMergeConflict{0, 1, 2, 3, 42}
	flags := []bool{false, true}

	checked := 0
	for _, ne := range notExists {
		for _, ex := range exists {
			for _, vc := range versionConflict {
				for _, mc := range mergeConflict {
					for _, isExisting := range flags {
						for _, conflicted := range flags {
							for _, deletion := range flags {
								s := Situation{Exists: isExisting, VersionConflict: conflicted && isExisting, Deletion: deletion}
								p := write.Policies{OnNotExists: ne, OnExists: ex, OnVersionConflict: vc, OnMergeConflict: mc}
								d := Decide(s, p)
								checked++

								switch d.Action {
								case ActionFail:
									if !terminalFailures[d.Outcome] {
										t.Fatalf("fail decision with outcome %s for %+v %+v", d.Outcome, s, p)
									}
								case ActionRetain:
									assert.Equal(t, write.OutcomeRetained, d.Outcome)
								default:
									if d.Outcome != write.OutcomeWritten {
										t.Fatalf("write decision %s with outcome %s for %+v %+v", d.Action, d.Outcome, s, p)
									}
									if deletion && d.Action != ActionDelete {
										t.Fatalf("deletion intent reached %s for %+v", d.Action, p)
									}
								}
							}
						}
					}
				}
			}
		}
	}
	assert.Equal(t, 5*8*6*5*8, checked)
}

func TestActionWrites(t *testing.T) {
	assert.False(t, ActionFail.Writes())
	assert.False(t, ActionRetain.Writes())
	assert.True(t, ActionMergeWithBase.Writes())
	assert.Equal(t, "merge-with-base", ActionMergeWithBase.String())
}

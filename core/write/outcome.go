package write

import (
	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/feature"
	"github.com/heremaps/xyz-hub-sub023/core/history"
)

// Outcome is the terminal result of one intent.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeWritten
	OutcomeRetained
	OutcomeFeatureExists
	OutcomeFeatureNotExists
	OutcomeVersionConflict
	OutcomeMergeConflict
	OutcomeIllegalArgument
	OutcomeStorageFailure
	OutcomeInvariantViolation
)

var outcomeNames = map[Outcome]string{
	OutcomeUnknown:            "UNKNOWN",
	OutcomeWritten:            "WRITTEN",
	OutcomeRetained:           "RETAINED",
	OutcomeFeatureExists:      "FEATURE_EXISTS",
	OutcomeFeatureNotExists:   "FEATURE_NOT_EXISTS",
	OutcomeVersionConflict:    "VERSION_CONFLICT",
	OutcomeMergeConflict:      "MERGE_CONFLICT",
	OutcomeIllegalArgument:    "ILLEGAL_ARGUMENT",
	OutcomeStorageFailure:     "STORAGE_FAILURE",
	OutcomeInvariantViolation: "INVARIANT_VIOLATION",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for outcome, name := range outcomeNames {
		if name == string(text) {
			*o = outcome
			return nil
		}
	}
	*o = OutcomeUnknown
	return nil
}

// Succeeded reports whether the intent completed as the caller asked,
// including silently dropped RETAIN intents.
func (o Outcome) Succeeded() bool {
	return o == OutcomeWritten || o == OutcomeRetained
}

// Kind maps a failed outcome onto the error taxonomy.
func (o Outcome) Kind() hubErrors.Kind {
	switch o {
	case OutcomeIllegalArgument:
		return hubErrors.KindIllegalArgument
	case OutcomeStorageFailure:
		return hubErrors.KindStorageFailure
	case OutcomeInvariantViolation:
		return hubErrors.KindInvariantViolation
	default:
		return hubErrors.KindPolicyOutcome
	}
}

// OutcomeForKind is the outcome reported for an error of kind k.
func OutcomeForKind(k hubErrors.Kind) Outcome {
	switch k {
	case hubErrors.KindIllegalArgument:
		return OutcomeIllegalArgument
	case hubErrors.KindInvariantViolation:
		return OutcomeInvariantViolation
	default:
		return OutcomeStorageFailure
	}
}

type IntentResult struct {
	Index     int                 `json:"index"`
	FeatureID string              `json:"featureId"`
	Outcome   Outcome             `json:"outcome"`
	Version   int64               `json:"version,omitempty"`
	Effect    history.TableEffect `json:"tableEffect"`
	Feature   *feature.Feature    `json:"feature,omitempty"`

	ConflictingPaths []feature.Path `json:"conflictingPaths,omitempty"`

	Message   string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Err       error  `json:"-"`
}

// Failure builds the result for an intent that ended in err.
func Failure(err error) IntentResult {
	kind := hubErrors.KindOf(err)
	return IntentResult{
		Outcome:   OutcomeForKind(kind),
		Effect:    history.EffectNone,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
		Err:       err,
	}
}

// PolicyResult builds the result for a policy-driven terminal outcome.
func PolicyResult(outcome Outcome, message string) IntentResult {
	return IntentResult{Outcome: outcome, Effect: history.EffectNone, Message: message}
}

type BatchResult struct {
	BatchID string         `json:"batchId"`
	SpaceID string         `json:"space"`
	Results []IntentResult `json:"results"`
}

// Counts tallies results by outcome.
func (r BatchResult) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// RetryableIndexes returns the positions of intents that failed with a
// retryable storage failure.
func (r BatchResult) RetryableIndexes() []int {
	var out []int
	for _, res := range r.Results {
		if res.Retryable {
			out = append(out, res.Index)
		}
	}
	return out
}

func (r BatchResult) AllSucceeded() bool {
	for _, res := range r.Results {
		if !res.Outcome.Succeeded() {
			return false
		}
	}
	return true
}

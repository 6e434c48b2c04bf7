// Package errors implements the hub's error taxonomy: expected policy
// outcomes, caller mistakes, retryable storage failures and broken invariants.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind int

const (
	// KindPolicyOutcome is an outcome the caller asked to be told about,
	// e.g. a version conflict under OnVersionConflict=ERROR.
	KindPolicyOutcome Kind = iota

	// KindIllegalArgument means the request was incomplete or contradictory
	// for the branch that was reached. Never retried.
	KindIllegalArgument

	// KindStorageFailure covers I/O errors, timeouts, lock waits and lost
	// compare-and-swap races. Retrying the same intent is safe.
	KindStorageFailure

	// KindInvariantViolation means stored state is not what the engine
	// requires, e.g. a history snapshot for a declared base version is gone.
	KindInvariantViolation
)

var kindNames = map[Kind]string{
	KindPolicyOutcome:      "policy_outcome",
	KindIllegalArgument:    "illegal_argument",
	KindStorageFailure:     "storage_failure",
	KindInvariantViolation: "invariant_violation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether an error of this kind may succeed when the same
// intent is submitted again.
func (k Kind) Retryable() bool {
	return k == KindStorageFailure
}

// HubError wraps an error with its kind.
type HubError struct {
	Kind       Kind
	Message    string
	Underlying error
	Context    map[string]string
}

func (e *HubError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *HubError) Unwrap() error {
	return e.Underlying
}

// Is matches any HubError of the same kind, so sentinel values can be used
// as kind markers with errors.Is.
func (e *HubError) Is(target error) bool {
	var he *HubError
	if errors.As(target, &he) {
		return e.Kind == he.Kind && (he.Message == "" || he.Message == e.Message)
	}
	return false
}

func New(kind Kind, message string) *HubError {
	return &HubError{Kind: kind, Message: message, Context: make(map[string]string)}
}

func (e *HubError) WithContext(key, value string) *HubError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches a kind to err. An existing HubError keeps its kind.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}

	var he *HubError
	if errors.As(err, &he) {
		return &HubError{
			Kind:       he.Kind,
			Message:    message,
			Underlying: err,
			Context:    he.Context,
		}
	}

	return &HubError{Kind: kind, Message: message, Underlying: err, Context: make(map[string]string)}
}

func IllegalArgument(format string, args ...any) error {
	return New(KindIllegalArgument, fmt.Sprintf(format, args...))
}

func InvariantViolation(format string, args ...any) error {
	return New(KindInvariantViolation, fmt.Sprintf(format, args...))
}

func StorageFailure(message string, err error) error {
	return Wrap(KindStorageFailure, message, err)
}

// KindOf extracts the Kind of err using the default classifier.
func KindOf(err error) Kind {
	return defaultClassifier.Classify(err)
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}

// Kind markers for errors.Is.
var (
	ErrIllegalArgument    = &HubError{Kind: KindIllegalArgument}
	ErrStorageFailure     = &HubError{Kind: KindStorageFailure}
	ErrInvariantViolation = &HubError{Kind: KindInvariantViolation}
	ErrPolicyOutcome      = &HubError{Kind: KindPolicyOutcome}
)

// Stdlib passthroughs so callers importing this package under the name
// errors keep access to the usual helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }

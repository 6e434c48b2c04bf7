package errors

import (
	"context"
	"errors"
	"regexp"
	"sync"
)

// Classifier maps raw backend errors onto a Kind. Errors that already carry
// a Kind keep it; everything else is matched against message patterns and
// defaults to a storage failure because it came out of a storage call.
type Classifier struct {
	mu             sync.RWMutex
	invariantPats  []*regexp.Regexp
	illegalArgPats []*regexp.Regexp
}

var defaultClassifier = mustClassifier(DefaultClassifierConfig())

func NewClassifier() *Classifier {
	return &Classifier{}
}

func NewClassifierFromConfig(cfg *ClassifierConfig) (*Classifier, error) {
	c := NewClassifier()
	if err := c.loadPatterns(cfg.InvariantPatterns, &c.invariantPats); err != nil {
		return nil, Wrap(KindIllegalArgument, "invalid invariant pattern", err)
	}
	if err := c.loadPatterns(cfg.IllegalArgumentPatterns, &c.illegalArgPats); err != nil {
		return nil, Wrap(KindIllegalArgument, "invalid illegal-argument pattern", err)
	}
	return c, nil
}

func mustClassifier(cfg *ClassifierConfig) *Classifier {
	c, err := NewClassifierFromConfig(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) loadPatterns(patterns []string, target *[]*regexp.Regexp) error {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return err
		}
		*target = append(*target, re)
	}
	return nil
}

func (c *Classifier) Classify(err error) Kind {
	if err == nil {
		return KindPolicyOutcome
	}

	if kind, ok := c.extractExistingKind(err); ok {
		return kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindStorageFailure
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.classifyByContent(err.Error())
}

func (c *Classifier) extractExistingKind(err error) (Kind, bool) {
	var he *HubError
	if errors.As(err, &he) {
		return he.Kind, true
	}
	return KindStorageFailure, false
}

func (c *Classifier) classifyByContent(errStr string) Kind {
	if matchesAny(errStr, c.invariantPats) {
		return KindInvariantViolation
	}
	if matchesAny(errStr, c.illegalArgPats) {
		return KindIllegalArgument
	}
	return KindStorageFailure
}

func matchesAny(errStr string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(errStr) {
			return true
		}
	}
	return false
}

// ConfigureDefault swaps the patterns of the classifier behind KindOf and
// retry executors. The previous patterns stay active if cfg does not compile.
func ConfigureDefault(cfg *ClassifierConfig) error {
	c, err := NewClassifierFromConfig(cfg)
	if err != nil {
		return err
	}
	defaultClassifier.replace(c)
	return nil
}

func (c *Classifier) replace(other *Classifier) {
	c.mu.Lock()
	c.invariantPats = other.invariantPats
	c.illegalArgPats = other.illegalArgPats
	c.mu.Unlock()
}

package errors

// ClassifierConfig lists regular expressions matched against the message of
// errors that carry no Kind. Anything unmatched is a storage failure.
type ClassifierConfig struct {
	InvariantPatterns       []string `yaml:"invariant_patterns"`
	IllegalArgumentPatterns []string `yaml:"illegal_argument_patterns"`
}

func DefaultClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		InvariantPatterns: []string{
			`(?i)malformed`,
			`(?i)corrupt`,
			`(?i)checksum mismatch`,
		},
		IllegalArgumentPatterns: []string{
			`(?i)constraint failed: CHECK`,
		},
	}
}

package config

import "time"

// Defaults contains system-wide default values applied when
// agentcheck.yaml omits them.
type Defaults struct {
	// CaseTimeout is parsed and merged with defaults, but no component
	// reads it: a test's pipeline run (case harness + agent call +
	// validator call) has no time limit.
	CaseTimeout time.Duration `yaml:"case_timeout,omitempty"`

	// ValidatorTimeout is parsed and merged with defaults, but no
	// component reads it: Validator.Judge calls have no time limit.
	ValidatorTimeout time.Duration `yaml:"validator_timeout,omitempty"`
}

// DefaultDefaults returns the built-in fallback values.
func DefaultDefaults() *Defaults {
	return &Defaults{
		CaseTimeout:      2 * time.Minute,
		ValidatorTimeout: 30 * time.Second,
	}
}

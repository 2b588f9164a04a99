package config

import "errors"

// Sentinel errors returned by the loader, checked with errors.Is.
var (
	// ErrConfigNotFound is returned when agentcheck.yaml does not exist
	// at the configured path. A missing file is not fatal by itself —
	// built-in defaults still produce a usable Config — but callers that
	// require an explicit file use this to distinguish "absent" from
	// "malformed."
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML is returned when agentcheck.yaml fails to parse.
	ErrInvalidYAML = errors.New("invalid YAML")

	// ErrProjectRootRequired is returned by validate when no project
	// root was configured by file, flag, or environment.
	ErrProjectRootRequired = errors.New("project_root is required")
)

// LoadError wraps a failure to load one named configuration file with
// its filename, so the top-level error message always names the file at
// fault.
type LoadError struct {
	File string
	Err  error
}

// NewLoadError wraps err with the name of the file that failed to load.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	return e.File + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

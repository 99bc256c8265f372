package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotDirectory is returned when the source root is not a directory.
	ErrSourceNotDirectory = errors.New("source is not a directory")

	// ErrDestinationNotDirectory is returned when the destination root exists as a file.
	ErrDestinationNotDirectory = errors.New("destination is not a directory")

	// ErrDestinationInsideSource is returned when the destination would be mirrored into itself.
	ErrDestinationInsideSource = errors.New("destination is inside source")

	// ErrMissingValue is returned when a required configuration value is empty.
	ErrMissingValue = errors.New("value is required")
)

// ConfigurationError means a run cannot start. Nothing has been written when
// it is returned.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CopyError records a single entry that could not be mirrored.
type CopyError struct {
	Op   string
	Path string
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// PathConflictError records a type mismatch between source and destination at
// the same relative path. The entry, and its subtree when it is a directory,
// is skipped.
type PathConflictError struct {
	Path        string
	SourceIsDir bool
}

func (e *PathConflictError) Error() string {
	if e.SourceIsDir {
		return fmt.Sprintf("conflict %s: source is a directory, destination is a file", e.Path)
	}
	return fmt.Sprintf("conflict %s: source is a file, destination is a directory", e.Path)
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(field, value string, err error) error {
	return &ConfigurationError{Field: field, Value: value, Err: err}
}

// IsConfigurationError reports whether err stops a run before it starts.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError
	return errors.As(err, &configErr)
}

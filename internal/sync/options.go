package sync

import "go.uber.org/zap"

// Task configures a synchronization run. It is built once per invocation and
// is not modified while the run is in progress.
type Task struct {
	SourceRoot string
	DestRoot   string
	Exclusions Matcher
	DryRun     bool
}

// Option customizes a Synchronizer.
type Option func(*Synchronizer)

// WithMatcher sets the exclusion predicate. A nil matcher excludes nothing.
func WithMatcher(matcher Matcher) Option {
	return func(s *Synchronizer) {
		s.matcher = matcher
	}
}

// WithLogger sets the logger used for per-entry decisions.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDryRun makes the synchronizer compute and count decisions without
// writing to the destination.
func WithDryRun(dryRun bool) Option {
	return func(s *Synchronizer) {
		s.dryRun = dryRun
	}
}
